package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/c360/slotbus/errors"
)

// Entry is one key of a ConfigTree. Exactly one of Value or Tree is meaningful:
// Tree is nil for scalar entries.
type Entry struct {
	Key   string
	Value string
	Tree  *ConfigTree
}

// IsTree reports whether the entry holds a nested tree
func (e Entry) IsTree() bool { return e.Tree != nil }

// ConfigTree is an ordered multimap of string keys to scalar strings or nested
// trees. Keys may repeat; order is preserved.
type ConfigTree struct {
	entries []Entry
}

// NewConfigTree creates an empty tree
func NewConfigTree() *ConfigTree {
	return &ConfigTree{}
}

// Add appends a scalar entry and returns the tree for chaining
func (t *ConfigTree) Add(key, value string) *ConfigTree {
	t.entries = append(t.entries, Entry{Key: key, Value: value})
	return t
}

// AddChild appends a nested tree entry and returns the receiver for chaining
func (t *ConfigTree) AddChild(key string, child *ConfigTree) *ConfigTree {
	if child == nil {
		child = NewConfigTree()
	}
	t.entries = append(t.entries, Entry{Key: key, Tree: child})
	return t
}

// Set replaces the first scalar entry named key, appending it when absent
func (t *ConfigTree) Set(key, value string) *ConfigTree {
	for i := range t.entries {
		if t.entries[i].Key == key && t.entries[i].Tree == nil {
			t.entries[i].Value = value
			return t
		}
	}
	return t.Add(key, value)
}

// Get returns the first scalar value named key
func (t *ConfigTree) Get(key string) (string, bool) {
	if t == nil {
		return "", false
	}
	for _, e := range t.entries {
		if e.Key == key && e.Tree == nil {
			return e.Value, true
		}
	}
	return "", false
}

// GetOr returns the first scalar value named key, or def
func (t *ConfigTree) GetOr(key, def string) string {
	if v, ok := t.Get(key); ok {
		return v
	}
	return def
}

// Bool parses the scalar named key as a boolean. Absent keys yield def. Accepts the
// strconv forms plus "yes"/"no" and "on"/"off".
func (t *ConfigTree) Bool(key string, def bool) (bool, error) {
	v, ok := t.Get(key)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def, errors.WrapInvalid(fmt.Errorf("%w: %q is not a boolean for %q", errors.ErrConfiguration, v, key),
			"ConfigTree", "Bool", "parse attribute")
	}
	return b, nil
}

// Int parses the scalar named key as an integer. Absent keys yield def.
func (t *ConfigTree) Int(key string, def int) (int, error) {
	v, ok := t.Get(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, errors.WrapInvalid(fmt.Errorf("%w: %q is not an integer for %q", errors.ErrConfiguration, v, key),
			"ConfigTree", "Int", "parse attribute")
	}
	return n, nil
}

// Child returns the first nested tree named key
func (t *ConfigTree) Child(key string) (*ConfigTree, bool) {
	if t == nil {
		return nil, false
	}
	for _, e := range t.entries {
		if e.Key == key && e.Tree != nil {
			return e.Tree, true
		}
	}
	return nil, false
}

// Children returns every nested tree named key, in order
func (t *ConfigTree) Children(key string) []*ConfigTree {
	if t == nil {
		return nil
	}
	var out []*ConfigTree
	for _, e := range t.entries {
		if e.Key == key && e.Tree != nil {
			out = append(out, e.Tree)
		}
	}
	return out
}

// Values returns every scalar value named key, in order
func (t *ConfigTree) Values(key string) []string {
	if t == nil {
		return nil
	}
	var out []string
	for _, e := range t.entries {
		if e.Key == key && e.Tree == nil {
			out = append(out, e.Value)
		}
	}
	return out
}

// Entries returns a copy of the entries
func (t *ConfigTree) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Keys returns the distinct keys in first-appearance order
func (t *ConfigTree) Keys() []string {
	if t == nil {
		return nil
	}
	seen := make(map[string]bool, len(t.entries))
	var keys []string
	for _, e := range t.entries {
		if !seen[e.Key] {
			seen[e.Key] = true
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// Has reports whether any entry is named key
func (t *ConfigTree) Has(key string) bool {
	if t == nil {
		return false
	}
	for _, e := range t.entries {
		if e.Key == key {
			return true
		}
	}
	return false
}

// Len returns the number of entries
func (t *ConfigTree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Require fails with ErrConfiguration naming every key that has no entry
func (t *ConfigTree) Require(keys ...string) error {
	var missing []string
	for _, key := range keys {
		if !t.Has(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: missing %s", errors.ErrConfiguration, strings.Join(missing, ", ")),
			"ConfigTree", "Require", "required attributes")
	}
	return nil
}

// Clone returns a deep copy
func (t *ConfigTree) Clone() *ConfigTree {
	if t == nil {
		return nil
	}
	out := &ConfigTree{entries: make([]Entry, len(t.entries))}
	for i, e := range t.entries {
		out.entries[i] = Entry{Key: e.Key, Value: e.Value, Tree: e.Tree.Clone()}
	}
	return out
}

// ToMap converts the tree to plain maps for schema validation and JSON output.
// Scalars become strings, nested trees become maps and repeated keys become
// slices.
func (t *ConfigTree) ToMap() map[string]any {
	out := make(map[string]any)
	if t == nil {
		return out
	}
	for _, e := range t.entries {
		var v any = e.Value
		if e.Tree != nil {
			v = e.Tree.ToMap()
		}
		if existing, ok := out[e.Key]; ok {
			if list, isList := existing.([]any); isList {
				out[e.Key] = append(list, v)
			} else {
				out[e.Key] = []any{existing, v}
			}
			continue
		}
		out[e.Key] = v
	}
	return out
}

// FromMap builds a tree from plain maps. Map keys are sorted; slices become
// repeated keys; non-map scalars are formatted with fmt.
func FromMap(m map[string]any) *ConfigTree {
	t := NewConfigTree()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		addValue(t, k, m[k])
	}
	return t
}

func addValue(t *ConfigTree, key string, v any) {
	switch val := v.(type) {
	case map[string]any:
		t.AddChild(key, FromMap(val))
	case *ConfigTree:
		t.AddChild(key, val)
	case []any:
		for _, item := range val {
			addValue(t, key, item)
		}
	case nil:
		t.Add(key, "")
	default:
		t.Add(key, fmt.Sprint(val))
	}
}

// String renders the tree in a compact, stable form for logs
func (t *ConfigTree) String() string {
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t *ConfigTree) write(b *strings.Builder) {
	b.WriteByte('{')
	for i, e := range t.Entries() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.Key)
		b.WriteByte('=')
		if e.Tree != nil {
			e.Tree.write(b)
		} else {
			b.WriteString(strconv.Quote(e.Value))
		}
	}
	b.WriteByte('}')
}
