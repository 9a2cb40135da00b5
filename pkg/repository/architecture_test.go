package repository

import (
	"testing"

	"docrepo/testutil"
)

func TestEngineReachesStoresThroughContracts(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "the engine talks to domain.DocumentStore, stores are chosen by core")
	testutil.AssertNoDirectImports(t, ".", testutil.DriverImportForbidden, "drivers belong to infra packages")
}
