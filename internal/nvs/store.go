package nvs

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key has never been written.
	ErrNotFound = errors.New("nvs: key not found")
	// ErrTypeMismatch is returned when a key holds a value of another type.
	ErrTypeMismatch = errors.New("nvs: type mismatch")
	// ErrCorrupt is returned when persisted data fails its integrity check.
	ErrCorrupt = errors.New("nvs: data corrupt")
)

// Store is the typed non-volatile store consumed by the node.
type Store interface {
	GetU8(key string) (uint8, error)
	SetU8(key string, v uint8) error
	GetI8(key string) (int8, error)
	SetI8(key string, v int8) error
	GetU32(key string) (uint32, error)
	SetU32(key string, v uint32) error
	GetString(key string) (string, error)
	SetString(key string, v string) error
	GetBlob(key string) ([]byte, error)
	SetBlob(key string, v []byte) error

	// Erase removes key. Erasing a missing key is not an error.
	Erase(key string) error
	// Commit makes all staged writes durable.
	Commit() error
	// Discard drops the staged change to key, restoring its committed
	// value. Other staged keys are untouched.
	Discard(key string) error
}

// Kind is the type tag of a stored value.
type Kind uint8

const (
	KindU8 Kind = iota + 1
	KindI8
	KindU32
	KindString
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindU8:
		return "u8"
	case KindI8:
		return "i8"
	case KindU32:
		return "u32"
	case KindString:
		return "string"
	case KindBlob:
		return "blob"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// entry is one stored value. Only the field matching Kind is meaningful.
type entry struct {
	Kind Kind   `cbor:"k"`
	Uint uint32 `cbor:"u,omitempty"`
	Int  int8   `cbor:"i,omitempty"`
	Str  string `cbor:"s,omitempty"`
	Blob []byte `cbor:"b,omitempty"`
}

func (e entry) equal(o entry) bool {
	return e.Kind == o.Kind && e.Uint == o.Uint && e.Int == o.Int &&
		e.Str == o.Str && bytes.Equal(e.Blob, o.Blob)
}

// table holds the entries of one namespace. It is not synchronized; owners
// guard it with their own lock.
type table map[string]entry

func (t table) get(key string, kind Kind) (entry, error) {
	e, ok := t[key]
	if !ok {
		return entry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if e.Kind != kind {
		return entry{}, fmt.Errorf("%w: %s holds %s, want %s", ErrTypeMismatch, key, e.Kind, kind)
	}
	return e, nil
}

// restore resets key in t to its value in committed.
func (t table) restore(committed table, key string) {
	e, ok := committed[key]
	if !ok {
		delete(t, key)
		return
	}
	if e.Blob != nil {
		e.Blob = append([]byte(nil), e.Blob...)
	}
	t[key] = e
}

func (t table) clone() table {
	out := make(table, len(t))
	for k, e := range t {
		if e.Blob != nil {
			e.Blob = append([]byte(nil), e.Blob...)
		}
		out[k] = e
	}
	return out
}

func (t table) equal(o table) bool {
	if len(t) != len(o) {
		return false
	}
	for k, e := range t {
		oe, ok := o[k]
		if !ok || !e.equal(oe) {
			return false
		}
	}
	return true
}

// Keys reports every key currently present in the store, in no particular
// order. Implemented by both stores for diagnostics.
type Keys interface {
	Keys() []string
}
