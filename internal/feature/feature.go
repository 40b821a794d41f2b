// Package feature holds the in-memory model every pipeline stage works on:
// features with ordered scalar attributes and one geometry, grouped into a
// collection that carries a single spatial reference.
package feature

import (
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind is the scalar kind of an attribute value.
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindBoolean
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Value is a tagged scalar. Only the field matching Kind is meaningful.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Bool  bool
	Text  string
}

func Null() Value            { return Value{Kind: KindNull} }
func Int(v int64) Value      { return Value{Kind: KindInteger, Int: v} }
func Float(v float64) Value  { return Value{Kind: KindFloat, Float: v} }
func Bool(v bool) Value      { return Value{Kind: KindBoolean, Bool: v} }
func Text(v string) Value    { return Value{Kind: KindText, Text: v} }
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Any returns the Go value suitable as a query argument.
func (v Value) Any() any {
	switch v.Kind {
	case KindInteger:
		return v.Int
	case KindFloat:
		return v.Float
	case KindBoolean:
		return v.Bool
	case KindText:
		return v.Text
	default:
		return nil
	}
}

// String renders the value for logs and CSV export. Null renders empty.
func (v Value) String() string {
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindText:
		return v.Text
	default:
		return ""
	}
}

// FromAny converts a decoded Go value into a Value.
// Unknown types are stored as their fmt representation.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case bool:
		return Bool(t)
	case string:
		return Text(t)
	case []byte:
		return Text(string(t))
	default:
		return Text(fmt.Sprint(t))
	}
}

// Feature is one record: ordered attributes plus a single geometry.
type Feature struct {
	Attributes *orderedmap.OrderedMap[string, Value]
	Geometry   orb.Geometry
}

// New returns a feature with no attributes.
func New(g orb.Geometry) *Feature {
	return &Feature{
		Attributes: orderedmap.New[string, Value](),
		Geometry:   g,
	}
}

// Set adds or replaces an attribute, keeping the position of existing keys.
func (f *Feature) Set(name string, v Value) {
	f.Attributes.Set(name, v)
}

// Get returns the attribute and whether it exists.
func (f *Feature) Get(name string) (Value, bool) {
	return f.Attributes.Get(name)
}

// Names returns attribute names in insertion order.
func (f *Feature) Names() []string {
	names := make([]string, 0, f.Attributes.Len())
	for pair := f.Attributes.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Rename moves attribute from to name to, keeping its position.
// Returns false when from is absent or to is already taken.
func (f *Feature) Rename(from, to string) bool {
	if from == to {
		_, ok := f.Attributes.Get(from)
		return ok
	}
	if _, ok := f.Attributes.Get(from); !ok {
		return false
	}
	if _, taken := f.Attributes.Get(to); taken {
		return false
	}

	renamed := orderedmap.New[string, Value]()
	for pair := f.Attributes.Oldest(); pair != nil; pair = pair.Next() {
		key := pair.Key
		if key == from {
			key = to
		}
		renamed.Set(key, pair.Value)
	}
	f.Attributes = renamed
	return true
}

// Column is an attribute name with the kind inferred across a collection.
type Column struct {
	Name string
	Kind Kind
}

// Collection is an ordered batch of features sharing one spatial reference.
// SRID 0 means the source declared no reference.
type Collection struct {
	Name     string
	SRID     int
	Features []*Feature
}

// Len returns the number of features.
func (c *Collection) Len() int {
	return len(c.Features)
}

// AttributeNames returns the union of attribute names in first-seen order.
func (c *Collection) AttributeNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, f := range c.Features {
		for pair := f.Attributes.Oldest(); pair != nil; pair = pair.Next() {
			if !seen[pair.Key] {
				seen[pair.Key] = true
				names = append(names, pair.Key)
			}
		}
	}
	return names
}

// RenameAttribute renames an attribute on every feature and reports how many
// features were changed.
func (c *Collection) RenameAttribute(from, to string) int {
	n := 0
	for _, f := range c.Features {
		if f.Rename(from, to) {
			n++
		}
	}
	return n
}

// Columns infers one kind per attribute across all features.
// Integer and float mix into float; any other mix becomes text.
// A column holding only nulls is text.
func (c *Collection) Columns() []Column {
	names := c.AttributeNames()
	kinds := make(map[string]Kind, len(names))

	for _, f := range c.Features {
		for pair := f.Attributes.Oldest(); pair != nil; pair = pair.Next() {
			if pair.Value.IsNull() {
				continue
			}
			kinds[pair.Key] = promote(kinds[pair.Key], pair.Value.Kind)
		}
	}

	cols := make([]Column, len(names))
	for i, name := range names {
		k := kinds[name]
		if k == KindNull {
			k = KindText
		}
		cols[i] = Column{Name: name, Kind: k}
	}
	return cols
}

func promote(current, next Kind) Kind {
	switch {
	case current == KindNull:
		return next
	case current == next:
		return current
	case (current == KindInteger && next == KindFloat) || (current == KindFloat && next == KindInteger):
		return KindFloat
	default:
		return KindText
	}
}
