package config

import "strconv"

// Options is a loosely-typed option bag carried by parser and ingest
// configuration. JSON configs unmarshal naturally into it.
//
// Accessors never fail: a missing or wrongly-typed option yields the
// provided default. This keeps hot parsing paths free of error plumbing
// for settings that always have a sane fallback.
type Options map[string]any

// Bool returns the named option as a bool, or def when absent/mistyped.
func (o Options) Bool(name string, def bool) bool {
	v, ok := o[name]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	}
	return def
}

// Int returns the named option as an int, or def when absent/mistyped.
// JSON numbers arrive as float64 and are truncated.
func (o Options) Int(name string, def int) int {
	v, ok := o[name]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

// String returns the named option as a string, or def when absent/mistyped.
func (o Options) String(name string, def string) string {
	if v, ok := o[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Rune returns the first rune of the named string option, or def.
// Used for delimiter settings ("comma": "\t").
func (o Options) Rune(name string, def rune) rune {
	s := o.String(name, "")
	if s == "" {
		return def
	}
	return []rune(s)[0]
}

// StringMap returns the named option as map[string]string.
// JSON objects arrive as map[string]any; non-string values are skipped.
func (o Options) StringMap(name string) map[string]string {
	v, ok := o[name]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case map[string]string:
		return t
	case map[string]any:
		out := make(map[string]string, len(t))
		for k, vv := range t {
			if s, ok := vv.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}
