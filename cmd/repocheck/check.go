package main

import (
	"fmt"
	"go/token"
	"go/types"
	"reflect"
	"strconv"

	"golang.org/x/tools/go/packages"

	"docrepo/pkg/dispatch"
)

const (
	dispatchPath = "docrepo/pkg/dispatch"
	domainPath   = "docrepo/pkg/domain"
)

// Issue is one finding on a declarative repository field.
type Issue struct {
	Pos     token.Position
	Type    string
	Field   string
	Message string
	// Warning marks fields that resolve at runtime only when Bind receives a
	// descriptor or the field is preset.
	Warning bool
}

func (i Issue) String() string {
	level := "error"
	if i.Warning {
		level = "warning"
	}
	return fmt.Sprintf("%s: %s: %s.%s: %s", i.Pos, level, i.Type, i.Field, i.Message)
}

// Report is the outcome of checking a set of packages.
type Report struct {
	Repositories int
	Issues       []Issue
}

// Failed reports whether the report contains errors, or warnings when strict.
func (r Report) Failed(strict bool) bool {
	for _, issue := range r.Issues {
		if !issue.Warning || strict {
			return true
		}
	}
	return false
}

// Check inspects every struct type declared at package scope that embeds
// dispatch.Proxy[T] and validates its func fields the way dispatch.Bind will.
func Check(pkgs []*packages.Package) Report {
	var report Report
	for _, pkg := range pkgs {
		if pkg.Types == nil {
			continue
		}
		scope := pkg.Types.Scope()
		for _, name := range scope.Names() {
			tn, ok := scope.Lookup(name).(*types.TypeName)
			if !ok || tn.IsAlias() {
				continue
			}
			st, ok := tn.Type().Underlying().(*types.Struct)
			if !ok {
				continue
			}
			record := proxyRecord(st)
			if record == nil {
				continue
			}
			report.Repositories++
			report.Issues = append(report.Issues, checkStruct(pkg.Fset, tn.Name(), st, record)...)
		}
	}
	return report
}

// proxyRecord returns T when st embeds dispatch.Proxy[T].
func proxyRecord(st *types.Struct) types.Type {
	for i := 0; i < st.NumFields(); i++ {
		f := st.Field(i)
		if !f.Embedded() {
			continue
		}
		if named, ok := f.Type().(*types.Named); ok && isNamed(named, dispatchPath, "Proxy") && named.TypeArgs().Len() == 1 {
			return named.TypeArgs().At(0)
		}
	}
	return nil
}

func checkStruct(fset *token.FileSet, typeName string, st *types.Struct, record types.Type) []Issue {
	var issues []Issue
	for i := 0; i < st.NumFields(); i++ {
		f := st.Field(i)
		sig, ok := f.Type().Underlying().(*types.Signature)
		if f.Embedded() || !f.Exported() || !ok {
			continue
		}
		report := func(warning bool, format string, args ...any) {
			issues = append(issues, Issue{
				Pos:     fset.Position(f.Pos()),
				Type:    typeName,
				Field:   f.Name(),
				Message: fmt.Sprintf(format, args...),
				Warning: warning,
			})
		}
		if dispatch.Reserved(f.Name()) {
			report(false, "name is reserved by the repository contract")
			continue
		}
		if sig.Params().Len() == 0 || !isContext(sig.Params().At(0).Type()) {
			report(false, "first parameter must be context.Context")
			continue
		}
		if sig.Results().Len() != 2 || !types.Identical(sig.Results().At(1).Type(), types.Universe.Lookup("error").Type()) {
			report(false, "results must be (R, error)")
			continue
		}
		tag := reflect.StructTag(st.Tag(i))
		if _, ok := tag.Lookup("query"); !ok {
			report(true, "no query tag; needs a dispatch.Queries descriptor or a default body")
			continue
		}
		nullable := false
		if raw, ok := tag.Lookup("nullable"); ok {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				report(false, "nullable tag %q is not a boolean", raw)
				continue
			}
			nullable = v
		}
		single, supported := shape(sig.Results().At(0).Type(), record)
		switch {
		case !supported:
			report(false, "unsupported return type %s", types.TypeString(sig.Results().At(0).Type(), nil))
		case nullable && !single:
			report(false, "nullable applies only to single-record results")
		}
	}
	return issues
}

// shape reports whether r is a supported result type for record type t and
// whether it is the single-record form.
func shape(r, t types.Type) (single, supported bool) {
	if types.Identical(r, t) {
		return true, true
	}
	if slice, ok := r.(*types.Slice); ok {
		return false, types.Identical(slice.Elem(), t)
	}
	named, ok := r.(*types.Named)
	if !ok || named.TypeArgs().Len() != 1 || !types.Identical(named.TypeArgs().At(0), t) {
		return false, false
	}
	return false, isNamed(named, domainPath, "Set") || isNamed(named, domainPath, "Optional")
}

func isContext(t types.Type) bool {
	named, ok := t.(*types.Named)
	return ok && isNamed(named, "context", "Context")
}

func isNamed(named *types.Named, pkgPath, name string) bool {
	obj := named.Obj()
	return obj != nil && obj.Pkg() != nil && obj.Pkg().Path() == pkgPath && obj.Name() == name
}
