package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kalambet/prefd/internal/persistent"
)

// MaxUpdateSize bounds the body of one update-persistent call.
const MaxUpdateSize = 1 << 20

// maxEventLine bounds one data line of the event stream. A broadcast carries
// the value re-encoded as a JSON string, and escaping can grow each byte up
// to six.
const maxEventLine = 8 * MaxUpdateSize

// WriteEvent writes n as one server-sent event named after its topic.
func WriteEvent(w http.ResponseWriter, n persistent.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Topic(), b); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// readEvents decodes server-sent events from r and calls fn for each
// notification until r is exhausted.
func readEvents(r io.Reader, fn func(persistent.Notification)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventLine)

	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var n persistent.Notification
			if err := json.Unmarshal([]byte(data.String()), &n); err != nil {
				return fmt.Errorf("decoding event: %w", err)
			}
			data.Reset()
			fn(n)
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return sc.Err()
}
