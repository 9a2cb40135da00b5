package domain

import "reflect"

// Set is an ordered collection of distinct records. Distinctness follows
// Equal, so distinct transient records are always kept.
type Set[T Record] []T

// NewSet deduplicates records preserving first-seen order.
func NewSet[T Record](records ...T) Set[T] {
	out := make(Set[T], 0, len(records))
	seen := make(map[setKey]struct{}, len(records))
	for _, r := range records {
		key, ok := keyOf(r)
		if ok {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, r)
	}
	return out
}

// Contains reports whether an Equal record is in the set.
func (s Set[T]) Contains(r T) bool {
	for _, item := range s {
		if Equal(item, r) {
			return true
		}
	}
	return false
}

// Len returns the number of records.
func (s Set[T]) Len() int { return len(s) }

type setKey struct {
	typ  reflect.Type
	meta Metadata
	ptr  uintptr
}

func keyOf(r Record) (setKey, bool) {
	if isNil(r) {
		return setKey{}, false
	}
	typ := reflect.TypeOf(r)
	meta, ok := r.Metadata()
	if ok {
		return setKey{typ: typ, meta: meta}, true
	}
	if v := reflect.ValueOf(r); v.Kind() == reflect.Pointer {
		return setKey{typ: typ, ptr: v.Pointer()}, true
	}
	return setKey{}, false
}
