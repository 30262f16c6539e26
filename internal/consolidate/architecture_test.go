package consolidate_test

import (
	"testing"

	"dispensecore/testutil"
)

func TestConsolidateHasNoIODependencies(t *testing.T) {
	testutil.AssertNoTransitiveDependency(t, "dispensecore/internal/consolidate",
		testutil.Any(testutil.ThirdPartyImport, testutil.InfraImport, func(p string) bool {
			return p == "net" || p == "database/sql" || p == "os/exec"
		}),
		"consolidation is pure and performs no I/O")
}
