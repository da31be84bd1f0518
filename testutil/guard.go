// Package testutil provides guards that keep package boundaries intact:
// the domain stays free of internal packages and the core never reaches
// into infrastructure adapters.
package testutil

import (
	"fmt"
	"go/ast"
	"go/token"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// ModulePath is the import path of this module.
const ModulePath = "crmcore"

// InternalOf matches module's own internal packages. Standard library
// internals such as crypto/internal/fips140 never match.
func InternalOf(module string) func(string) bool {
	return func(path string) bool { return within(path, module+"/internal") }
}

// InternalImportForbidden matches any internal package of this module.
func InternalImportForbidden(path string) bool {
	return InternalOf(ModulePath)(path)
}

// InfraImportForbidden matches infrastructure adapter packages.
func InfraImportForbidden(path string) bool {
	return within(path, ModulePath+"/internal/infra") || within(path, ModulePath+"/internal/backend")
}

// within reports whether path is root or a package below it.
func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+"/")
}

// loadMode covers everything the guards inspect.
const loadMode = packages.NeedName | packages.NeedImports | packages.NeedDeps |
	packages.NeedSyntax | packages.NeedFiles | packages.NeedCompiledGoFiles

// LoadPackage loads the package matching pattern (relative patterns resolve
// against the test's working directory). Test files are excluded.
func LoadPackage(t testing.TB, pattern string) *packages.Package {
	t.Helper()
	pkgs, err := packages.Load(&packages.Config{Mode: loadMode}, pattern)
	if err != nil {
		t.Fatalf("load %s: %v", pattern, err)
	}
	if len(pkgs) != 1 {
		t.Fatalf("load %s: expected one package, got %d", pattern, len(pkgs))
	}
	if len(pkgs[0].Errors) > 0 {
		t.Fatalf("load %s: %v", pattern, pkgs[0].Errors)
	}
	return pkgs[0]
}

// AssertNoDirectImports fails when a direct import of pkg matches forbidden.
func AssertNoDirectImports(t testing.TB, pkg *packages.Package, forbidden func(string) bool, reason string) {
	t.Helper()
	if viols := directImportViolations(pkg, forbidden); len(viols) > 0 {
		t.Fatalf("forbidden direct imports in %s (%s):\n%s", pkg.PkgPath, reason, strings.Join(viols, "\n"))
	}
}

// AssertNoTransitiveDependency fails when any dependency of pkg, direct or
// not, matches forbidden.
func AssertNoTransitiveDependency(t testing.TB, pkg *packages.Package, forbidden func(string) bool, reason string) {
	t.Helper()
	if viols := transitiveViolations(pkg, forbidden); len(viols) > 0 {
		t.Fatalf("forbidden transitive dependencies of %s (%s):\n%s", pkg.PkgPath, reason, strings.Join(viols, "\n"))
	}
}

// AssertNoTypeAliases fails when pkg declares a type alias.
func AssertNoTypeAliases(t testing.TB, pkg *packages.Package) {
	t.Helper()
	if aliases := typeAliases(pkg); len(aliases) > 0 {
		t.Fatalf("type aliases are forbidden in %s; found %d:\n%s", pkg.PkgPath, len(aliases), strings.Join(aliases, "\n"))
	}
}

func directImportViolations(pkg *packages.Package, forbidden func(string) bool) []string {
	var viols []string
	for path := range pkg.Imports {
		if forbidden(path) {
			viols = append(viols, path)
		}
	}
	sort.Strings(viols)
	return viols
}

func transitiveViolations(root *packages.Package, forbidden func(string) bool) []string {
	seen := map[string]struct{}{}
	var viols []string
	var walk func(*packages.Package)
	walk = func(pkg *packages.Package) {
		for path, dep := range pkg.Imports {
			if _, ok := seen[path]; ok {
				continue
			}
			seen[path] = struct{}{}
			if forbidden(path) {
				viols = append(viols, path)
			}
			walk(dep)
		}
	}
	walk(root)
	sort.Strings(viols)
	return viols
}

func typeAliases(pkg *packages.Package) []string {
	var out []string
	for _, file := range pkg.Syntax {
		for _, decl := range file.Decls {
			gen, ok := decl.(*ast.GenDecl)
			if !ok || gen.Tok != token.TYPE {
				continue
			}
			for _, spec := range gen.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok || !ts.Assign.IsValid() {
					continue
				}
				pos := pkg.Fset.Position(ts.Pos())
				out = append(out, fmt.Sprintf("%s:%d type %s", filepath.Base(pos.Filename), pos.Line, ts.Name.Name))
			}
		}
	}
	return out
}
