package configstore

import (
	"strings"

	"github.com/kaspa-aio/controller/pkg/types"
)

// EnvFile is an order-preserving view of a KEY=VALUE environment file. Keys
// keep their first-encountered order; new keys append at the end.
type EnvFile struct {
	keys   []string
	values map[string]string
}

// NewEnvFile returns an empty environment file.
func NewEnvFile() *EnvFile {
	return &EnvFile{values: make(map[string]string)}
}

// ParseEnv parses the line-oriented environment format. Comment and blank
// lines are skipped; optional surrounding quotes are removed; a duplicate
// key keeps its first position but takes the later value.
func ParseEnv(data []byte) *EnvFile {
	env := NewEnvFile()
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		env.Set(key, unquote(strings.TrimSpace(value)))
	}
	return env
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// Serialize renders the file with keys in order. Values containing spaces or
// comment characters are quoted.
func (e *EnvFile) Serialize() []byte {
	var b strings.Builder
	for _, key := range e.keys {
		value := e.values[key]
		if strings.ContainsAny(value, " #\t") {
			value = `"` + value + `"`
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Get returns a value and whether the key exists.
func (e *EnvFile) Get(key string) (string, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Set assigns a value, appending the key if new.
func (e *EnvFile) Set(key, value string) {
	if _, exists := e.values[key]; !exists {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
}

// Unset removes a key.
func (e *EnvFile) Unset(key string) {
	if _, exists := e.values[key]; !exists {
		return
	}
	delete(e.values, key)
	for i, k := range e.keys {
		if k == key {
			e.keys = append(e.keys[:i], e.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in file order.
func (e *EnvFile) Keys() []string {
	return append([]string(nil), e.keys...)
}

// Len returns the number of keys.
func (e *EnvFile) Len() int { return len(e.keys) }

// Clone returns a deep copy.
func (e *EnvFile) Clone() *EnvFile {
	out := &EnvFile{
		keys:   append([]string(nil), e.keys...),
		values: make(map[string]string, len(e.values)),
	}
	for k, v := range e.values {
		out.values[k] = v
	}
	return out
}

// sensitiveMarkers flag keys whose values must not leave the host. KEY also
// covers API_KEY style names.
var sensitiveMarkers = []string{"PASSWORD", "SECRET", "TOKEN", "KEY", "PRIVATE", "SEED", "MNEMONIC"}

// Sensitive reports whether a key's value should be masked in API responses.
func Sensitive(key string) bool {
	upper := strings.ToUpper(key)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// Masked returns the key/value map with sensitive values replaced.
func (e *EnvFile) Masked() map[string]string {
	out := make(map[string]string, len(e.values))
	for k, v := range e.values {
		if Sensitive(k) && v != "" {
			out[k] = "********"
		} else {
			out[k] = v
		}
	}
	return out
}

// DiffEnv computes key-level changes from old to new, in old-file order with
// additions appended.
func DiffEnv(old, new *EnvFile) types.ConfigDiff {
	var diff types.ConfigDiff

	for _, key := range old.keys {
		oldValue := old.values[key]
		newValue, exists := new.values[key]
		switch {
		case !exists:
			diff.Changes = append(diff.Changes, types.ConfigChange{
				Key: key, Kind: types.DiffRemoved, OldValue: oldValue,
			})
		case oldValue != newValue:
			diff.Changes = append(diff.Changes, types.ConfigChange{
				Key: key, Kind: types.DiffModified, OldValue: oldValue, NewValue: newValue,
			})
		}
	}

	for _, key := range new.keys {
		if _, exists := old.values[key]; !exists {
			diff.Changes = append(diff.Changes, types.ConfigChange{
				Key: key, Kind: types.DiffAdded, NewValue: new.values[key],
			})
		}
	}
	return diff
}
