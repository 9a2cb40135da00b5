// Package testutil provides helpers for architecture tests that pin which
// packages may depend on storage infrastructure.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// driverModules are the storage and cloud drivers only infra packages may
// link against.
var driverModules = []string{
	"github.com/jackc/pgx",
	"modernc.org/sqlite",
	"github.com/go-sql-driver/mysql",
	"go.etcd.io/bbolt",
	"github.com/aws/aws-sdk-go-v2",
}

// AssertNoTransitiveDependency loads pattern with go/packages and fails if any
// package in its dependency graph satisfies forbidden.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	viols, err := transitiveDependencyViolations(pattern, forbidden)
	if err != nil {
		t.Fatalf("load %s: %v", pattern, err)
	}
	failIfViolations(t, "forbidden transitive dependency", reason, viols)
}

// AssertNoDirectImports scans the non-test .go files in dir and fails if an
// import path satisfies forbidden. Build tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfViolations(t, "forbidden direct imports", reason, viols)
}

// AssertOnlyImportedBy loads pattern, test packages included, and fails if a
// package outside allowed imports a package matched by target. Packages
// matched by target may import each other.
func AssertOnlyImportedBy(t testing.TB, pattern string, target, allowed func(path string) bool, reason string) {
	t.Helper()
	viols, err := importerViolations(pattern, target, allowed)
	if err != nil {
		t.Fatalf("load %s: %v", pattern, err)
	}
	failIfViolations(t, "forbidden importers", reason, viols)
}

// Under matches prefix and every package below it, counting an external
// test package (prefix_test) as part of the package it tests.
func Under(prefix string) func(path string) bool {
	return func(path string) bool {
		path = strings.TrimSuffix(path, "_test")
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
}

// InfraImportForbidden matches the storage implementation packages.
func InfraImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/infra/") || strings.HasSuffix(path, "/internal/infra")
}

// InternalImportForbidden matches any path containing /internal/.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// DriverImportForbidden matches database and cloud driver packages.
func DriverImportForbidden(path string) bool {
	for _, mod := range driverModules {
		if path == mod || strings.HasPrefix(path, mod+"/") {
			return true
		}
	}
	return false
}

var loadPackages = func(pattern string) ([]*packages.Package, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	return packages.Load(cfg, pattern)
}

var loadWithTests = func(pattern string) ([]*packages.Package, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	return packages.Load(cfg, pattern)
}

func importerViolations(pattern string, target, allowed func(path string) bool) ([]string, error) {
	pkgs, err := loadWithTests(pattern)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var viols []string
	for _, pkg := range pkgs {
		if target(pkg.PkgPath) || allowed(pkg.PkgPath) {
			continue
		}
		for imp := range pkg.Imports {
			if v := pkg.PkgPath + ": " + imp; target(imp) && !seen[v] {
				seen[v] = true
				viols = append(viols, v)
			}
		}
	}
	sort.Strings(viols)
	return viols, nil
}

func transitiveDependencyViolations(pattern string, forbidden func(path string) bool) ([]string, error) {
	roots, err := loadPackages(pattern)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no packages match %s", pattern)
	}
	seen := make(map[string]bool)
	var viols []string
	packages.Visit(roots, func(pkg *packages.Package) bool {
		if seen[pkg.PkgPath] {
			return false
		}
		seen[pkg.PkgPath] = true
		if forbidden(pkg.PkgPath) {
			viols = append(viols, pkg.PkgPath)
		}
		return true
	}, nil)
	sort.Strings(viols)
	return viols, nil
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				return nil, err
			}
			if forbidden(path) {
				viols = append(viols, path+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, kind, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("%s detected (%s):\n%s", kind, reason, strings.Join(viols, "\n"))
	}
}
