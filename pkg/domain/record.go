package domain

import (
	"encoding/binary"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// Record is implemented by every value a repository can persist. Embedding
// Base satisfies it.
type Record interface {
	// Metadata returns the record's storage identity, or false when transient.
	Metadata() (Metadata, bool)
	// SetMetadata replaces the record's metadata; nil makes it transient.
	SetMetadata(meta *Metadata)
}

// Base carries the metadata of a record. It is never serialized into the
// record's document.
type Base struct {
	meta *Metadata
}

// Metadata implements Record.
func (b *Base) Metadata() (Metadata, bool) {
	if b == nil || b.meta == nil {
		return Metadata{}, false
	}
	return *b.meta, true
}

// SetMetadata implements Record. The value is copied so later changes to the
// caller's pointer cannot leak into the record.
func (b *Base) SetMetadata(meta *Metadata) {
	if meta == nil {
		b.meta = nil
		return
	}
	cp := *meta
	b.meta = &cp
}

// Identity returns the store-assigned identity.
func (b *Base) Identity() (int64, error) {
	meta, ok := b.Metadata()
	if !ok {
		return 0, &ArgumentError{Op: "get identity of"}
	}
	return meta.Identity, nil
}

// Transient reports whether the record has never been persisted.
func (b *Base) Transient() bool {
	_, ok := b.Metadata()
	return !ok
}

// Attach sets meta on record and returns it, for use in expressions.
func Attach[T Record](record T, meta *Metadata) T {
	record.SetMetadata(meta)
	return record
}

// AttachFrom copies the metadata of source onto record. A transient source
// makes record transient.
func AttachFrom[T Record](record T, source Record) T {
	if meta, ok := source.Metadata(); ok {
		record.SetMetadata(&meta)
	} else {
		record.SetMetadata(nil)
	}
	return record
}

// Equal reports whether a and b denote the same stored record: same concrete
// type and equal metadata. A transient record is equal only to itself, never
// to a structurally identical transient record.
func Equal(a, b Record) bool {
	if isNil(a) || isNil(b) {
		return false
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if va := reflect.ValueOf(a); va.Kind() == reflect.Pointer && va.Pointer() == reflect.ValueOf(b).Pointer() {
		return true
	}
	ma, okA := a.Metadata()
	mb, okB := b.Metadata()
	return okA && okB && ma == mb
}

// Hash derives a hash from the record's metadata. Transient records hash to 0.
func Hash(r Record) uint64 {
	if isNil(r) {
		return 0
	}
	meta, ok := r.Metadata()
	if !ok {
		return 0
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(meta.Identity))
	binary.LittleEndian.PutUint64(buf[8:], uint64(meta.Version))
	return xxhash.Sum64(buf[:])
}

func isNil(r Record) bool {
	if r == nil {
		return true
	}
	v := reflect.ValueOf(r)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
