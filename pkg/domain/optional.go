package domain

import "fmt"

// Optional holds a value that may be absent. The zero value is empty.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an empty Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// Present reports whether a value is held.
func (o Optional[T]) Present() bool {
	return o.ok
}

// OrZero returns the value or the zero value of T.
func (o Optional[T]) OrZero() T {
	return o.value
}

// OrElse returns the value or fallback when empty.
func (o Optional[T]) OrElse(fallback T) T {
	if o.ok {
		return o.value
	}
	return fallback
}

func (o Optional[T]) String() string {
	if !o.ok {
		return "Optional.empty"
	}
	return fmt.Sprintf("Optional[%v]", o.value)
}
