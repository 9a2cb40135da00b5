package sqlite

import (
	"go/build"
	"strings"
	"testing"
)

var allowedInternalImports = map[string]struct{}{
	"docrepo/pkg/domain":                       {},
	"docrepo/internal/jsondoc":                 {},
	"docrepo/internal/infra/persistence/sqldoc": {},
}

func TestImportsAreDomainOrStdlib(t *testing.T) {
	pkg, err := build.Default.ImportDir(".", 0)
	if err != nil {
		t.Fatalf("import dir: %v", err)
	}
	for _, imp := range pkg.Imports {
		if !strings.HasPrefix(imp, "docrepo/") {
			continue
		}
		if _, ok := allowedInternalImports[imp]; ok {
			continue
		}
		t.Fatalf("unexpected dependency: %s", imp)
	}
}
