package persistent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconcile(t *testing.T) {
	defaults := Props{"a": 0.0, "b": 2.0}

	tests := []struct {
		name    string
		raw     string
		exists  bool
		want    Props
		write   bool
		corrupt bool
	}{
		{name: "missing file", exists: false, want: Props{"a": 0.0, "b": 2.0}, write: true},
		{name: "equal to defaults", raw: `{"a":0,"b":2}`, exists: true, want: Props{"a": 0.0, "b": 2.0}},
		{name: "missing key", raw: `{"a":1}`, exists: true, want: Props{"a": 1.0, "b": 2.0}, write: true},
		{name: "complete custom values", raw: `{"a":1,"b":5}`, exists: true, want: Props{"a": 1.0, "b": 5.0}},
		{name: "extra key preserved", raw: `{"a":0,"b":2,"old":"x"}`, exists: true, want: Props{"a": 0.0, "b": 2.0, "old": "x"}},
		{name: "bare string", raw: `"oops"`, exists: true, want: Props{"a": 0.0, "b": 2.0}, write: true, corrupt: true},
		{name: "array", raw: `[1,2]`, exists: true, want: Props{"a": 0.0, "b": 2.0}, write: true, corrupt: true},
		{name: "invalid json", raw: `{"a":`, exists: true, want: Props{"a": 0.0, "b": 2.0}, write: true, corrupt: true},
		{name: "null", raw: `null`, exists: true, want: Props{"a": 0.0, "b": 2.0}, write: true, corrupt: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reconcile([]byte(tt.raw), tt.exists, defaults)
			assert.Equal(t, tt.want, got.props)
			assert.Equal(t, tt.write, got.write)
			assert.Equal(t, tt.corrupt, got.corrupt != nil)
		})
	}
}

func TestReconcileDoesNotAliasDefaults(t *testing.T) {
	defaults := Props{"list": []any{"x"}}
	got := reconcile(nil, false, defaults)
	got.props["list"].([]any)[0] = "changed"
	assert.Equal(t, "x", defaults["list"].([]any)[0])
}
