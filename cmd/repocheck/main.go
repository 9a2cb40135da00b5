// Command repocheck reports declarative repository structs (types embedding
// dispatch.Proxy[T]) whose func fields dispatch.Bind cannot resolve.
//
//	repocheck [-strict] [-dir path] [packages...]
//
// Errors exit 1. Fields without a query tag are warnings, since Bind may
// still receive a descriptor or find a default body; -strict fails on them.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/tools/go/packages"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("repocheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	strict := fs.Bool("strict", false, "treat missing query tags as errors")
	dir := fs.String("dir", "", "directory to resolve patterns from")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	patterns := fs.Args()
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}
	pkgs, err := load(*dir, patterns)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "repocheck: %v\n", err)
		return 2
	}
	report := Check(pkgs)
	for _, issue := range report.Issues {
		if _, err := fmt.Fprintln(stdout, issue); err != nil {
			return 1
		}
	}
	if _, err := fmt.Fprintf(stdout, "%d declarative repositories checked, %d findings\n", report.Repositories, len(report.Issues)); err != nil {
		return 1
	}
	if report.Failed(*strict) {
		return 1
	}
	return 0
}

func load(dir string, patterns []string) ([]*packages.Package, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedTypes | packages.NeedSyntax | packages.NeedTypesInfo,
		Dir:  dir,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, err
	}
	var errs []error
	packages.Visit(pkgs, nil, func(pkg *packages.Package) {
		for _, e := range pkg.Errors {
			errs = append(errs, e)
		}
	})
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return pkgs, nil
}
