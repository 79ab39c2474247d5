// internal/entity/entity.go
//
// Record contract and per-type metadata.
//
// Context
// -------
// Every persisted type registers a static Meta: its table name, an ordered
// Field descriptor list, and an optional cache policy.  The descriptor
// list replaces runtime reflection; it is built once, by hand, next to the
// type definition, and the repo consults it for INSERT/UPDATE column
// enumeration and for patching cached copies.
//
// A Field whose getter returns nil is "absent" and is skipped by writes,
// so partial records never null out columns they did not touch.
//
// Notes
// -----
// • Two records are equal only when they share concrete type and id.
// • Oxford commas, two spaces after periods.
package entity

import (
	"errors"
	"fmt"
	"reflect"
)

// Record is the minimal contract for a persisted entity.  Id 0 means
// "new"; Save assigns the generated id back through SetID.
type Record interface {
	ID() int64
	SetID(int64)
}

// Field describes one persisted column.  Get returns nil when the field
// is currently absent.  Set is used to patch cached in-memory copies
// (BatchIncrement) and may be nil for read-only columns.
type Field struct {
	Name string
	Get  func(Record) any
	Set  func(Record, any)
}

// CacheConfig enables read-through caching for a type.  Types that do not
// attach one are simply not cache-enabled.
type CacheConfig struct {
	Region      string // cache region, conventionally the type name
	CacheAbsent bool   // cache "no row" results to stop miss storms
}

// Meta is the static descriptor attached at type-registration time.
type Meta struct {
	Table  string
	Fields []Field
	Cache  *CacheConfig
}

// field returns the descriptor for name, or nil.
func (m *Meta) field(name string) *Field {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i]
		}
	}
	return nil
}

// countCacheKey is reserved for the row-count entry and can never collide
// with a decimal id key.
const countCacheKey = "#"

// listCacheKey holds the unbounded ListAll result.
const listCacheKey = "all"

// Same reports record equality: same concrete type and same identifier.
// Different types with equal ids are never equal.
func Same(a, b Record) bool {
	if a == nil || b == nil {
		return false
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return a.ID() == b.ID()
}

// ErrInvalidPage is returned when a caller passes a non-positive page or
// page size.  It is a caller error, not a storage error.
var ErrInvalidPage = errors.New("entity: page and size must be positive")

// Error wraps any underlying storage failure, preserving the cause.
type Error struct {
	Op  string // "get", "save", "batch", …
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("entity: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// storeErr wraps err unless it is nil or already a caller error.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidPage) {
		return err
	}
	return &Error{Op: op, Err: err}
}
