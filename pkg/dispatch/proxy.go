// Package dispatch builds declarative repositories: structs that embed
// Proxy[T] and declare func-typed fields whose bodies are generated from
// query descriptors.
//
//	type Widgets struct {
//		dispatch.Proxy[*Widget]
//		Below  func(ctx context.Context, x int) ([]*Widget, error) `query:"x < ?"`
//		ByName func(ctx context.Context, name string) (*Widget, error) `query:"name = ?" nullable:"true"`
//	}
//
//	repo := &Widgets{}
//	err := dispatch.Bind(repo, engine)
//
// Each field must take a context.Context first and return (R, error). The
// remaining parameters bind positionally to the query's placeholders, with a
// variadic tail flattened. R selects the operation:
//
//	[]T                 SearchAll
//	domain.Set[T]       SearchAll, deduplicated in first-seen order
//	T                   SearchFirst, not-found error when empty (nil when nullable)
//	domain.Optional[T]  SearchFirst
//
// A field that is already set when Bind runs is kept as a default body; it
// usually closes over the struct pointer to call sibling methods. Every
// handler is resolved once, inside Bind.
package dispatch

import (
	"context"
	"encoding/binary"
	"fmt"
	"reflect"
	"sort"

	"github.com/cespare/xxhash/v2"

	"docrepo/pkg/domain"
)

// Proxy is embedded by declarative repository structs. It forwards the base
// contract to the bound repository and owns the handler table.
type Proxy[T domain.Record] struct {
	repo     domain.Repository[T]
	target   reflect.Type
	handlers map[string]*handler
}

var _ domain.Repository[domain.Record] = (*Proxy[domain.Record])(nil)

type handler struct {
	name  string
	kind  Kind
	shape Shape
	query string
	fn    reflect.Value
}

type proxied[T domain.Record] interface {
	proxy() *Proxy[T]
}

func (p *Proxy[T]) proxy() *Proxy[T] { return p }

// Bound reports whether Bind has run.
func (p *Proxy[T]) Bound() bool { return p.repo != nil }

// Repository returns the backing repository.
func (p *Proxy[T]) Repository() domain.Repository[T] { return p.repo }

// Target returns the declarative struct type.
func (p *Proxy[T]) Target() reflect.Type { return p.target }

// Table implements domain.Repository.
func (p *Proxy[T]) Table() string {
	if p.repo == nil {
		return ""
	}
	return p.repo.Table()
}

// Save implements domain.Repository.
func (p *Proxy[T]) Save(ctx context.Context, record T) (T, error) {
	if err := p.bound("Save"); err != nil {
		var zero T
		return zero, err
	}
	return p.repo.Save(ctx, record)
}

// Delete implements domain.Repository.
func (p *Proxy[T]) Delete(ctx context.Context, record T) error {
	if err := p.bound("Delete"); err != nil {
		return err
	}
	return p.repo.Delete(ctx, record)
}

// DeleteAll implements domain.Repository.
func (p *Proxy[T]) DeleteAll(ctx context.Context) error {
	if err := p.bound("DeleteAll"); err != nil {
		return err
	}
	return p.repo.DeleteAll(ctx)
}

// SearchAll implements domain.Repository.
func (p *Proxy[T]) SearchAll(ctx context.Context, query string, params ...any) ([]T, error) {
	if err := p.bound("SearchAll"); err != nil {
		return nil, err
	}
	return p.repo.SearchAll(ctx, query, params...)
}

// SearchFirst implements domain.Repository.
func (p *Proxy[T]) SearchFirst(ctx context.Context, query string, params ...any) (domain.Optional[T], error) {
	if err := p.bound("SearchFirst"); err != nil {
		return domain.None[T](), err
	}
	return p.repo.SearchFirst(ctx, query, params...)
}

// SearchAllLike implements domain.Repository.
func (p *Proxy[T]) SearchAllLike(ctx context.Context, example any) ([]T, error) {
	if err := p.bound("SearchAllLike"); err != nil {
		return nil, err
	}
	return p.repo.SearchAllLike(ctx, example)
}

// SearchFirstLike implements domain.Repository.
func (p *Proxy[T]) SearchFirstLike(ctx context.Context, example any) (domain.Optional[T], error) {
	if err := p.bound("SearchFirstLike"); err != nil {
		return domain.None[T](), err
	}
	return p.repo.SearchFirstLike(ctx, example)
}

func (p *Proxy[T]) bound(method string) error {
	if p.repo == nil {
		return &domain.UnsupportedError{Method: method, Reason: "proxy is not bound"}
	}
	return nil
}

// Methods lists every name in the handler table, sorted.
func (p *Proxy[T]) Methods() []string {
	names := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns how name was resolved.
func (p *Proxy[T]) Lookup(name string) (Kind, bool) {
	h, ok := p.handlers[name]
	if !ok {
		return 0, false
	}
	return h.kind, true
}

// QueryOf returns the fragment and result shape of a generated handler.
func (p *Proxy[T]) QueryOf(name string) (string, Shape, bool) {
	h, ok := p.handlers[name]
	if !ok || h.kind != Generated {
		return "", 0, false
	}
	return h.query, h.shape, true
}

// Invoke calls the handler named name with ctx followed by args and returns
// its first result. Unknown names fail with *domain.UnsupportedError.
func (p *Proxy[T]) Invoke(ctx context.Context, name string, args ...any) (any, error) {
	h, ok := p.handlers[name]
	if !ok {
		return nil, &domain.UnsupportedError{Method: name, Reason: "no handler"}
	}
	ft := h.fn.Type()
	in := make([]reflect.Value, 0, len(args)+1)
	if ctx == nil {
		ctx = context.Background()
	}
	in = append(in, reflect.ValueOf(ctx))
	fixed := ft.NumIn() - 1
	if ft.IsVariadic() {
		fixed--
	}
	if len(args) < fixed || (!ft.IsVariadic() && len(args) != fixed) {
		return nil, fmt.Errorf("invoke %s: %d arguments for %d parameters: %w", name, len(args), fixed, domain.ErrUnsupported)
	}
	for i, arg := range args {
		var want reflect.Type
		if i < fixed {
			want = ft.In(i + 1)
		} else {
			want = ft.In(ft.NumIn() - 1).Elem()
		}
		v, err := argValue(arg, want)
		if err != nil {
			return nil, fmt.Errorf("invoke %s: argument %d: %w", name, i, err)
		}
		in = append(in, v)
	}
	out := h.fn.Call(in)
	return splitResults(out)
}

func argValue(arg any, want reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch want.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return reflect.Zero(want), nil
		}
		return reflect.Value{}, fmt.Errorf("nil for %s", want)
	}
	v := reflect.ValueOf(arg)
	switch {
	case v.Type().AssignableTo(want):
		return v, nil
	case v.Type().ConvertibleTo(want) && v.Kind() != reflect.String && want.Kind() != reflect.String:
		return v.Convert(want), nil
	default:
		return reflect.Value{}, fmt.Errorf("%T is not assignable to %s", arg, want)
	}
}

func splitResults(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		err, _ := out[0].Interface().(error)
		return nil, err
	default:
		err, _ := out[len(out)-1].Interface().(error)
		return out[0].Interface(), err
	}
}

// Equal is referential: a proxy equals only itself, reached directly or
// through the struct embedding it.
func (p *Proxy[T]) Equal(other any) bool {
	o, ok := other.(proxied[T])
	return ok && o.proxy() == p
}

// Hash mixes the backing repository's identity with the target type.
func (p *Proxy[T]) Hash() uint64 {
	d := xxhash.New()
	if p.target != nil {
		_, _ = d.WriteString(p.target.PkgPath())
		_, _ = d.WriteString(".")
		_, _ = d.WriteString(p.target.Name())
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(identityOf(p.repo)))
	_, _ = d.Write(buf[:])
	return d.Sum64()
}

func identityOf(v any) uintptr {
	if v == nil {
		return 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return rv.Pointer()
	default:
		return 0
	}
}

func (p *Proxy[T]) String() string {
	target := "<unbound>"
	if p.target != nil {
		target = p.target.String()
	}
	return fmt.Sprintf("Proxy of %s delegating to %v", target, p.repo)
}
