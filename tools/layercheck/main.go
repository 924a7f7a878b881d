// Package main implements an import layering linter.
//
// The validation core must stay free of transport and orchestration code so
// it can be embedded without the server. layercheck parses the imports of
// every non-test Go file under pkg/ and reports any that cross a layer.
//
// Usage:
//
//	go run ./tools/layercheck [-root <project-root>]
package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// rule forbids packages under dir from importing paths containing any of
// the fragments.
type rule struct {
	dir       string
	forbidden []string
}

var transport = []string{"net/http", "/pkg/api", "/pkg/client"}

var rules = []rule{
	{dir: "pkg/contracts", forbidden: append([]string{"/pkg/guard", "/pkg/store", "/pkg/contractsync", "database/sql"}, transport...)},
	{dir: "pkg/schema", forbidden: append([]string{"/pkg/guard", "/pkg/store", "/pkg/contractsync", "database/sql"}, transport...)},
	{dir: "pkg/canonicalize", forbidden: append([]string{"/pkg/guard", "/pkg/store", "/pkg/contractsync"}, transport...)},
	{dir: "pkg/integrity", forbidden: append([]string{"/pkg/guard", "/pkg/contractsync"}, transport...)},
	{dir: "pkg/projection", forbidden: append([]string{"/pkg/guard", "/pkg/contractsync"}, transport...)},
	{dir: "pkg/store", forbidden: append([]string{"/pkg/guard", "/pkg/contractsync"}, transport...)},
	{dir: "pkg/guard", forbidden: append([]string{"/pkg/contractsync"}, transport...)},
}

func main() {
	root := flag.String("root", ".", "Project root directory")
	flag.Parse()
	os.Exit(run(*root, os.Stdout, os.Stderr))
}

func run(root string, stdout, stderr io.Writer) int {
	violations, err := check(root, rules)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 2
	}
	for _, v := range violations {
		_, _ = fmt.Fprintf(stdout, "LAYER VIOLATION: %s\n", v)
	}
	if len(violations) > 0 {
		_, _ = fmt.Fprintf(stdout, "\n❌ %d layer violation(s) found\n", len(violations))
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "✅ layer check passed")
	return 0
}

func check(root string, rules []rule) ([]string, error) {
	pkgDir := filepath.Join(root, "pkg")
	if _, err := os.Stat(pkgDir); err != nil {
		return nil, fmt.Errorf("%s does not exist", pkgDir)
	}

	var violations []string
	fset := token.NewFileSet()

	for _, r := range rules {
		dir := filepath.Join(root, filepath.FromSlash(r.dir))
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if info.Name() == "testdata" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}

			f, parseErr := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
			if parseErr != nil {
				return fmt.Errorf("parse %s: %w", path, parseErr)
			}
			for _, imp := range f.Imports {
				importPath := strings.Trim(imp.Path.Value, `"`)
				for _, frag := range r.forbidden {
					if importPath == frag || (strings.HasPrefix(frag, "/") && strings.Contains(importPath, frag)) {
						pos := fset.Position(imp.Pos())
						rel, _ := filepath.Rel(root, pos.Filename)
						violations = append(violations, fmt.Sprintf("%s:%d imports %q (forbidden in %s)",
							filepath.ToSlash(rel), pos.Line, importPath, r.dir))
					}
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", dir, err)
		}
	}
	return violations, nil
}
