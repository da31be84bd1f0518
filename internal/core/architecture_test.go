package core_test

import (
	"testing"

	"crmcore/testutil"
)

func TestCoreBoundaries(t *testing.T) {
	pkg := testutil.LoadPackage(t, ".")
	testutil.AssertNoTypeAliases(t, pkg)
	testutil.AssertNoTransitiveDependency(t, pkg, testutil.InfraImportForbidden, "core talks to adapters only through ports")
}
