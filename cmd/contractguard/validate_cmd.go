package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aspace-os/contractguard/pkg/config"
	"github.com/aspace-os/contractguard/pkg/contracts"
	"github.com/aspace-os/contractguard/pkg/schema"
)

// runValidateCmd validates one document against its schema. Nothing is
// written.
//
// Exit codes:
//
//	0 = valid
//	1 = invalid
//	2 = usage or I/O error
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		typeName   string
		file       string
		schemas    string
		jsonOutput bool
	)
	cmd.StringVar(&typeName, "type", "", "Contract type (inferred from the file name if omitted)")
	cmd.StringVar(&file, "file", "", "Path to the JSON document (REQUIRED)")
	cmd.StringVar(&schemas, "schemas", "", "Schema directory (default $SCHEMAS_DIR)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the outcome as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if file == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file is required")
		return 2
	}

	var (
		t   contracts.Type
		err error
		ok  bool
	)
	if typeName != "" {
		if t, err = contracts.ParseType(typeName); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	} else if t, ok = contracts.InferType(filepath.Base(file)); !ok {
		_, _ = fmt.Fprintln(stderr, "Error: cannot infer contract type from filename; pass --type")
		return 2
	}

	outcome, err := validateFile(registry(schemas), t, file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(outcome, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if outcome.Valid {
		_, _ = fmt.Fprintf(stdout, "✅ %s is a valid %s\n", file, t)
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ %s is not a valid %s\n", file, t)
		for _, v := range outcome.Violations {
			_, _ = fmt.Fprintf(stdout, "  - %s\n", v)
		}
	}
	if !outcome.Valid {
		return 1
	}
	return 0
}

func registry(dir string) *schema.Registry {
	if dir == "" {
		dir = config.Load().SchemasDir
	}
	return schema.NewRegistry(dir)
}

func validateFile(reg *schema.Registry, t contracts.Type, path string) (schema.Outcome, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return schema.Outcome{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := schema.DecodeJSON(raw)
	if err != nil {
		return schema.Fail("Invalid JSON: %v", err), nil
	}
	return reg.ValidateDocument(t, doc), nil
}

// runCheckCmd validates every example (each must pass) and every invalid
// fixture (each must fail).
func runCheckCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("check", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	configPath := cmd.String("config", "", "Path to a YAML config file")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	reg := schema.NewRegistry(cfg.SchemasDir)

	failures := 0
	for _, set := range []struct {
		dir       string
		wantValid bool
	}{
		{cfg.ExamplesDir, true},
		{cfg.InvalidDir, false},
	} {
		files, err := jsonFiles(set.dir)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		printSection(stdout, set.dir)
		for _, path := range files {
			name := filepath.Base(path)
			t, ok := contracts.InferType(name)
			if !ok {
				failures++
				_, _ = fmt.Fprintf(stdout, "  %sFAIL%s %s: cannot infer contract type from filename\n", ColorRed, ColorReset, name)
				continue
			}
			outcome, err := validateFile(reg, t, path)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
			if outcome.Valid == set.wantValid {
				_, _ = fmt.Fprintf(stdout, "  %sPASS%s %s\n", ColorGreen, ColorReset, name)
				continue
			}
			failures++
			if set.wantValid {
				_, _ = fmt.Fprintf(stdout, "  %sFAIL%s %s: expected valid\n", ColorRed, ColorReset, name)
				for _, v := range outcome.Violations {
					_, _ = fmt.Fprintf(stdout, "       %s\n", v)
				}
			} else {
				_, _ = fmt.Fprintf(stdout, "  %sFAIL%s %s: expected violations, got none\n", ColorRed, ColorReset, name)
			}
		}
	}

	if failures > 0 {
		_, _ = fmt.Fprintf(stdout, "%d check(s) failed\n", failures)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "All checks passed")
	return 0
}

// runSchemasCmd lints the schema of every contract type.
func runSchemasCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("schemas", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dir := cmd.String("dir", "", "Schema directory (default $SCHEMAS_DIR)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	reg := registry(*dir)

	issues := 0
	for _, t := range contracts.AllTypes() {
		doc, err := reg.Load(t)
		if err != nil {
			issues++
			_, _ = fmt.Fprintf(stdout, "  %sFAIL%s %s: %v\n", ColorRed, ColorReset, t.SchemaFile(), err)
			continue
		}
		violations := schema.Lint(doc)
		if len(violations) == 0 {
			_, _ = fmt.Fprintf(stdout, "  %sOK%s   %s\n", ColorGreen, ColorReset, t.SchemaFile())
			continue
		}
		issues += len(violations)
		_, _ = fmt.Fprintf(stdout, "  %sFAIL%s %s\n", ColorRed, ColorReset, t.SchemaFile())
		for _, v := range violations {
			_, _ = fmt.Fprintf(stdout, "       %s\n", v)
		}
	}
	if issues > 0 {
		return 1
	}
	return 0
}

func jsonFiles(dir string) ([]string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var files []string
	for _, de := range des {
		if !de.IsDir() && contracts.IsContractFile(de.Name()) {
			files = append(files, filepath.Join(dir, de.Name()))
		}
	}
	return files, nil
}
