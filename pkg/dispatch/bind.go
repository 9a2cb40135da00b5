package dispatch

import (
	"context"
	"fmt"
	"reflect"
	"strconv"

	"github.com/hashicorp/go-multierror"

	"docrepo/pkg/domain"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// baseMethods are the context-taking base contract methods a proxy forwards
// and Invoke can reach.
var baseMethods = []string{"Save", "Delete", "DeleteAll", "SearchAll", "SearchFirst", "SearchAllLike", "SearchFirstLike"}

// reserved names cannot be declared as func fields; they would shadow the
// forwarded contract or the proxy's own methods.
var reserved = map[string]bool{
	"Bound": true, "Repository": true, "Target": true, "Methods": true, "Lookup": true,
	"QueryOf": true, "Invoke": true, "Equal": true, "Hash": true, "String": true, "Proxy": true, "Table": true,
}

func init() {
	for _, name := range baseMethods {
		reserved[name] = true
	}
}

// Reserved reports whether name cannot be used for a declarative method.
func Reserved(name string) bool { return reserved[name] }

// Bind resolves every method of target, a pointer to a struct embedding
// Proxy[T], against repo. Base contract methods forward to repo, preset func
// fields stay as default bodies, and the remaining func fields get generated
// handlers from their Queries descriptor or query/nullable struct tags.
//
// Every resolution failure is collected into the returned error; each one
// unwraps to domain.ErrUnsupported. Fields with neither a query nor a body
// get a handler failing with *domain.UnsupportedError, or fail Bind under
// Strict.
func Bind[T domain.Record](target any, repo domain.Repository[T], opts ...Option) error {
	if rv := reflect.ValueOf(repo); repo == nil || rv.Kind() == reflect.Pointer && rv.IsNil() {
		return &domain.UnsupportedError{Method: "Bind", Reason: "nil repository"}
	}
	cfg := &bindConfig{queries: make(map[string]Query)}
	for _, opt := range opts {
		opt.apply(cfg)
	}

	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return &domain.UnsupportedError{Method: "Bind", Reason: fmt.Sprintf("target %T is not a pointer to a struct", target)}
	}
	sv := rv.Elem()
	st := sv.Type()
	proxyType := reflect.TypeFor[Proxy[T]]()
	proxyField, ok := st.FieldByName("Proxy")
	if !ok || !proxyField.Anonymous || proxyField.Type != proxyType || len(proxyField.Index) != 1 {
		return &domain.UnsupportedError{Method: "Bind", Reason: fmt.Sprintf("%s does not embed %s", st, proxyType)}
	}
	p := sv.FieldByIndex(proxyField.Index).Addr().Interface().(*Proxy[T])
	if p.Bound() {
		return &domain.UnsupportedError{Method: "Bind", Reason: fmt.Sprintf("%s is already bound", st)}
	}

	handlers := make(map[string]*handler, st.NumField()+len(baseMethods))
	repoValue := reflect.ValueOf(repo)
	for _, name := range baseMethods {
		handlers[name] = &handler{name: name, kind: PassThrough, fn: repoValue.MethodByName(name)}
	}

	var result *multierror.Error
	declared := make(map[string]bool)
	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		if field.Anonymous || !field.IsExported() || field.Type.Kind() != reflect.Func {
			continue
		}
		declared[field.Name] = true
		h, err := resolve[T](p, field, sv.Field(i), cfg)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		handlers[field.Name] = h
	}
	for name := range cfg.queries {
		if !declared[name] {
			result = multierror.Append(result, &domain.UnsupportedError{Method: name, Reason: "descriptor names no func field of " + st.String()})
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	// Install only once everything resolved so a failed Bind leaves the
	// target untouched.
	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		if h, ok := handlers[field.Name]; ok && declared[field.Name] && h.kind != DefaultBody {
			sv.Field(i).Set(h.fn)
		}
	}
	p.repo = repo
	p.target = st
	p.handlers = handlers
	return nil
}

func resolve[T domain.Record](p *Proxy[T], field reflect.StructField, value reflect.Value, cfg *bindConfig) (*handler, error) {
	name := field.Name
	if Reserved(name) {
		return nil, &domain.UnsupportedError{Method: name, Reason: "name is reserved by the repository contract"}
	}
	ft := field.Type
	if err := checkSignature(ft); err != nil {
		return nil, &domain.UnsupportedError{Method: name, Reason: err.Error()}
	}
	if !value.IsNil() {
		return &handler{name: name, kind: DefaultBody, fn: value}, nil
	}

	desc, ok := cfg.queries[name]
	if !ok {
		var err error
		desc, ok, err = tagQuery(field)
		if err != nil {
			return nil, &domain.UnsupportedError{Method: name, Reason: err.Error()}
		}
	}
	if !ok {
		if cfg.strict {
			return nil, &domain.UnsupportedError{Method: name, Reason: "no query and no default body"}
		}
		return &handler{name: name, kind: Unresolved, fn: unsupportedFunc(ft, name)}, nil
	}

	shape, err := shapeOf[T](ft.Out(0), desc.Nullable)
	if err != nil {
		return nil, &domain.UnsupportedError{Method: name, Reason: err.Error()}
	}
	return &handler{name: name, kind: Generated, shape: shape, query: desc.Where, fn: generate(p, ft, desc.Where, shape)}, nil
}

func checkSignature(ft reflect.Type) error {
	if ft.NumIn() == 0 || ft.In(0) != contextType {
		return fmt.Errorf("first parameter must be context.Context")
	}
	if ft.NumOut() != 2 || ft.Out(1) != errorType {
		return fmt.Errorf("results must be (R, error)")
	}
	return nil
}

func tagQuery(field reflect.StructField) (Query, bool, error) {
	where, ok := field.Tag.Lookup("query")
	if !ok {
		return Query{}, false, nil
	}
	desc := Query{Where: where}
	if raw, ok := field.Tag.Lookup("nullable"); ok {
		nullable, err := strconv.ParseBool(raw)
		if err != nil {
			return Query{}, false, fmt.Errorf("nullable tag %q: %w", raw, err)
		}
		desc.Nullable = nullable
	}
	return desc, true, nil
}

func shapeOf[T domain.Record](rt reflect.Type, nullable bool) (Shape, error) {
	var shape Shape
	switch rt {
	case reflect.TypeFor[[]T]():
		shape = List
	case reflect.TypeFor[domain.Set[T]]():
		shape = Distinct
	case reflect.TypeFor[T]():
		shape = Single
		if nullable {
			shape = Nullable
		}
	case reflect.TypeFor[domain.Optional[T]]():
		shape = Optional
	default:
		return 0, fmt.Errorf("unsupported return type %s", rt)
	}
	if nullable && shape != Nullable {
		return 0, fmt.Errorf("nullable applies only to %s results, not %s", reflect.TypeFor[T](), rt)
	}
	return shape, nil
}

// generate builds the func value for a query method: it flattens the
// arguments after ctx into bind parameters, runs the search and coerces the
// result to the declared shape.
func generate[T domain.Record](p *Proxy[T], ft reflect.Type, where string, shape Shape) reflect.Value {
	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		ctx, _ := in[0].Interface().(context.Context)
		if ctx == nil {
			ctx = context.Background()
		}
		params := bindParams(ft, in[1:])
		result, err := run(ctx, p, where, shape, params)
		if err != nil {
			return []reflect.Value{reflect.Zero(ft.Out(0)), reflect.ValueOf(&err).Elem()}
		}
		return []reflect.Value{reflect.ValueOf(result), reflect.Zero(errorType)}
	})
}

func bindParams(ft reflect.Type, args []reflect.Value) []any {
	params := make([]any, 0, len(args))
	for i, arg := range args {
		if ft.IsVariadic() && i == len(args)-1 {
			for j := 0; j < arg.Len(); j++ {
				params = append(params, arg.Index(j).Interface())
			}
			continue
		}
		params = append(params, arg.Interface())
	}
	return params
}

func run[T domain.Record](ctx context.Context, p *Proxy[T], where string, shape Shape, params []any) (any, error) {
	switch shape {
	case List:
		return p.repo.SearchAll(ctx, where, params...)
	case Distinct:
		records, err := p.repo.SearchAll(ctx, where, params...)
		if err != nil {
			return nil, err
		}
		return domain.NewSet(records...), nil
	case Optional:
		return p.repo.SearchFirst(ctx, where, params...)
	default:
		found, err := p.repo.SearchFirst(ctx, where, params...)
		if err != nil {
			return nil, err
		}
		record, ok := found.Get()
		if !ok && shape == Single {
			return nil, &domain.NotFoundError{Table: p.repo.Table(), Query: where}
		}
		return record, nil
	}
}

func unsupportedFunc(ft reflect.Type, name string) reflect.Value {
	return reflect.MakeFunc(ft, func([]reflect.Value) []reflect.Value {
		var err error = &domain.UnsupportedError{Method: name, Reason: "no query and no default body"}
		return []reflect.Value{reflect.Zero(ft.Out(0)), reflect.ValueOf(&err).Elem()}
	})
}
