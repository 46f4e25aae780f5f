package paths

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Path roots
const (
	Root       = "$"
	RootPrefix = "$."
	DataPrefix = "$.data/"
	dataDotted = "$.data."
)

// DefaultSlot is the slot used when a path carries no slot segment.
const DefaultSlot = "default"

// TrimRoot strips a leading "$.data/", "$.data.", "$." or "$" root.
func TrimRoot(path string) string {
	switch {
	case strings.HasPrefix(path, DataPrefix):
		return path[len(DataPrefix):]
	case strings.HasPrefix(path, dataDotted):
		return path[len(dataDotted):]
	case path == "$.data":
		return ""
	case strings.HasPrefix(path, RootPrefix):
		return path[len(RootPrefix):]
	case strings.HasPrefix(path, Root):
		return path[len(Root):]
	}
	return path
}

// Segments splits a path into its segments with bracket indexes expanded.
func Segments(path string) []string {
	trimmed := TrimRoot(strings.TrimSpace(path))
	if trimmed == "" {
		return nil
	}

	var segs []string
	for _, part := range strings.FieldsFunc(trimmed, func(r rune) bool { return r == '.' || r == '/' }) {
		for part != "" {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				segs = append(segs, part)
				break
			}
			if open > 0 {
				segs = append(segs, part[:open])
			}
			end := strings.IndexByte(part[open:], ']')
			if end < 0 {
				// unterminated bracket, keep the remainder verbatim
				segs = append(segs, part[open:])
				break
			}
			if idx := part[open+1 : open+end]; idx != "" {
				segs = append(segs, idx)
			}
			part = part[open+end+1:]
		}
	}
	return segs
}

// SlotKey derives the slot key of an item or slot path. Trailing index segments are dropped.
func SlotKey(path string) string {
	segs := Segments(path)
	for len(segs) > 0 && isIndex(segs[len(segs)-1]) {
		segs = segs[:len(segs)-1]
	}
	if len(segs) == 0 {
		return DefaultSlot
	}
	return strings.Join(segs, ".")
}

// Item returns the canonical path of entry index within slot.
func Item(slot string, index int) string {
	if slot == "" {
		slot = DefaultSlot
	}
	return fmt.Sprintf("%s[%d]", slot, index)
}

// Index returns the trailing list index of an item path.
func Index(path string) (int, bool) {
	segs := Segments(path)
	if len(segs) == 0 || !isIndex(segs[len(segs)-1]) {
		return 0, false
	}
	n, _ := strconv.Atoi(segs[len(segs)-1])
	return n, true
}

// IsDataPath reports whether path follows the "$.data/..." binding convention.
func IsDataPath(path string) bool {
	return strings.HasPrefix(path, DataPrefix)
}

// IsNested reports whether a prop name addresses a nested location rather than a top-level prop.
func IsNested(prop string) bool {
	return strings.ContainsAny(prop, "./[")
}

// Lookup resolves path against a tree of maps and slices.
func Lookup(root any, path string) (any, bool) {
	current := root
	for _, seg := range Segments(path) {
		next, ok := step(current, seg)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Assign stores value at path inside dst, creating intermediate maps as needed.
// Index segments are treated as map keys.
func Assign(dst map[string]any, path string, value any) {
	segs := Segments(path)
	if len(segs) == 0 {
		return
	}
	node := dst
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = value
}

func step(current any, seg string) (any, bool) {
	switch v := current.(type) {
	case nil:
		return nil, false
	case map[string]any:
		next, ok := v[seg]
		return next, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(v) {
			return nil, false
		}
		return v[i], true
	}

	// named map / slice types (entities, typed lists)
	rv := reflect.ValueOf(current)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		val := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !val.IsValid() {
			return nil, false
		}
		return val.Interface(), true
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, false
		}
		return step(rv.Elem().Interface(), seg)
	}
	return nil, false
}

func isIndex(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
