package host

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Args is the positional argument list of a host command. The Opt* readers never fail: a
// missing, null or mistyped argument yields the default.
type Args []json.RawMessage

func (a Args) raw(i int) (json.RawMessage, bool) {
	if i < 0 || i >= len(a) {
		return nil, false
	}
	r := bytes.TrimSpace(a[i])
	if len(r) == 0 || bytes.Equal(r, []byte("null")) {
		return nil, false
	}
	return r, true
}

// OptString returns argument i as a string. Numbers and booleans are returned in their JSON
// form; objects and arrays yield def.
func (a Args) OptString(i int, def string) string {
	r, ok := a.raw(i)
	if !ok {
		return def
	}
	return scalarString(r, def)
}

// OptInt returns argument i as an int. Numeric strings are accepted.
func (a Args) OptInt(i int, def int) int {
	r, ok := a.raw(i)
	if !ok {
		return def
	}

	var n json.Number
	if err := json.Unmarshal(r, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return int(v)
		}
		if f, err := n.Float64(); err == nil {
			return int(f)
		}
		return def
	}

	var s string
	if err := json.Unmarshal(r, &s); err == nil {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return def
}

// OptStrings returns argument i as a list of strings, or nil when it is not an array.
func (a Args) OptStrings(i int) []string {
	r, ok := a.raw(i)
	if !ok {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(r, &items); err != nil {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, scalarString(bytes.TrimSpace(item), ""))
	}
	return out
}

// OptStringMap returns argument i as a string map, or nil when it is not an object.
func (a Args) OptStringMap(i int) map[string]string {
	r, ok := a.raw(i)
	if !ok {
		return nil
	}

	var items map[string]json.RawMessage
	if err := json.Unmarshal(r, &items); err != nil {
		return nil
	}

	out := make(map[string]string, len(items))
	for k, v := range items {
		out[k] = scalarString(bytes.TrimSpace(v), "")
	}
	return out
}

func scalarString(r json.RawMessage, def string) string {
	if len(r) == 0 {
		return def
	}

	switch r[0] {
	case '"':
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			return def
		}
		return s
	case '{', '[':
		return def
	case 'n':
		return def
	default:
		return string(r)
	}
}
