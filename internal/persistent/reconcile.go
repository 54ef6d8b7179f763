package persistent

import (
	"encoding/json"
	"errors"
)

// errCorrupt marks file contents that are not a JSON object.
var errCorrupt = errors.New("store file is not a JSON object")

// reconciliation is the outcome of merging a store file with its defaults.
type reconciliation struct {
	props   Props
	write   bool
	corrupt error
}

// reconcile merges the on-disk contents with defaults. Values from the file
// win, keys missing from the file are filled from defaults and unknown keys are
// kept. A file that does not parse to an object is treated as empty.
func reconcile(raw []byte, exists bool, defaults Props) reconciliation {
	if !exists {
		return reconciliation{props: defaults.clone(), write: true}
	}

	var r reconciliation
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		r.corrupt = errors.Join(errCorrupt, err)
	}
	onDisk, ok := parsed.(map[string]any)
	if !ok && r.corrupt == nil {
		r.corrupt = errCorrupt
	}
	if onDisk == nil {
		onDisk = map[string]any{}
	}

	merged := defaults.clone()
	for k, v := range onDisk {
		merged[k] = v
	}
	r.props = merged
	r.write = r.corrupt != nil || !equal(map[string]any(merged), onDisk)
	return r
}
