// Package testutil provides import-boundary and source-format assertions used
// by architecture tests across the module.
package testutil

import (
	"bytes"
	"fmt"
	"go/format"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// Predicate reports whether an import path is forbidden.
type Predicate func(path string) bool

// Any matches when one of preds matches.
func Any(preds ...Predicate) Predicate {
	return func(path string) bool {
		for _, p := range preds {
			if p(path) {
				return true
			}
		}
		return false
	}
}

// InternalImport matches import paths with an internal/ segment.
func InternalImport(path string) bool {
	return strings.Contains(path, "/internal/")
}

// InfraImport matches the concrete driver packages under internal/infra.
func InfraImport(path string) bool {
	return strings.Contains(path, "/internal/infra/")
}

// ThirdPartyImport matches paths whose first element looks like a host name,
// which excludes the standard library and the module's own packages.
func ThirdPartyImport(path string) bool {
	first, _, _ := strings.Cut(path, "/")
	return strings.Contains(first, ".")
}

// AssertNoDirectImports parses the non-test .go files in dir and fails if any
// import matches forbidden. Subdirectories and build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden Predicate, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	failIfViolations(t, "direct imports", reason, viols)
}

// AssertNoTransitiveDependency loads pattern with its dependency graph and
// fails if any reachable package matches forbidden. Test files are excluded.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden Predicate, reason string) {
	t.Helper()
	viols, err := transitiveViolations(pattern, forbidden)
	if err != nil {
		t.Fatalf("load %s: %v", pattern, err)
	}
	failIfViolations(t, "transitive dependency", reason, viols)
}

func directImportViolations(dir string, forbidden Predicate) ([]string, error) {
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
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			ip := strings.Trim(imp.Path.Value, `"`)
			if forbidden(ip) {
				viols = append(viols, fmt.Sprintf("%s (in %s)", ip, name))
			}
		}
	}
	return viols, nil
}

func transitiveViolations(pattern string, forbidden Predicate) ([]string, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	roots, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no packages match %s", pattern)
	}
	seen := make(map[string]bool)
	var viols []string
	var errs []string
	packages.Visit(roots, func(p *packages.Package) bool {
		if seen[p.PkgPath] {
			return false
		}
		seen[p.PkgPath] = true
		for _, e := range p.Errors {
			errs = append(errs, e.Error())
		}
		if forbidden(p.PkgPath) {
			viols = append(viols, p.PkgPath)
		}
		return true
	}, nil)
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	sort.Strings(viols)
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, kind, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden %s detected (%s):\n%s", kind, reason, strings.Join(viols, "\n"))
	}
}

// AssertFormatted fails when any of files differs from its gofmt output.
func AssertFormatted(t testing.TB, files ...string) {
	t.Helper()
	var viols []string
	for _, name := range files {
		src, err := os.ReadFile(name) // #nosec G304 -- test-supplied source path
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
			return
		}
		out, err := format.Source(src)
		if err != nil {
			t.Fatalf("format %s: %v", name, err)
			return
		}
		if !bytes.Equal(src, out) {
			viols = append(viols, name)
		}
	}
	failIfViolations(t, "unformatted sources", "run gofmt -w", viols)
}
