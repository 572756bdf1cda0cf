// Package key defines the erased key/value vocabulary shared by the
// scheduler and the build database.
//
// A Key is any comparable Go value. Its dynamic type is the rule-family
// tag: the engine dispatches to the rule registered for reflect.TypeOf(key).
// A Value is the result a rule produced for a key; the engine treats it as
// opaque and only the owning rule's Stored/Equal handlers interpret it.
package key

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"reflect"
)

// Key identifies one unit of buildable work. The concrete type must be
// comparable (it is used as a map key) and registered with the rule
// registry before being applied.
type Key any

// Value is the result of building a Key.
type Value any

// Depends is the ordered list of keys recorded by a single apply call.
// An action accumulates one Depends per apply, newest first.
type Depends []Key

// TypeOf returns the rule-family tag for a key.
func TypeOf(k Key) reflect.Type {
	return reflect.TypeOf(k)
}

// Show renders a key for diagnostics and error messages.
// Plain strings render bare; everything else renders as %v.
func Show(k Key) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", k)
}

// ShowTyped renders a key together with its type tag, used where keys of
// different families may collide in output.
func ShowTyped(k Key) string {
	return fmt.Sprintf("%s (%s)", Show(k), TypeOf(k))
}

// gobBox wraps an erased key or value so gob records the concrete type.
type gobBox struct {
	V any
}

// RegisterGob registers the concrete key and value types of a rule with
// encoding/gob so records for that rule can round-trip through the
// persistent database. Safe to call more than once for the same types.
func RegisterGob(keySample, valueSample any) {
	registerSample(keySample)
	registerSample(valueSample)
}

func registerSample(sample any) {
	if sample == nil {
		return
	}
	defer func() {
		// gob.Register panics when two distinct types share a name;
		// a duplicate registration of the same type is harmless.
		_ = recover()
	}()
	gob.Register(sample)
}

// EncodeGob serializes an erased key or value for persistence.
func EncodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobBox{V: v}); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// DecodeGob reverses EncodeGob. Records whose concrete types are no longer
// registered fail to decode; callers treat that as a missing record.
func DecodeGob(data []byte) (any, error) {
	var box gobBox
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&box); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return box.V, nil
}
