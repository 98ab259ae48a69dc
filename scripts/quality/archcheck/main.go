package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePrefix = "tgview/"

type listedPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

func main() {
	packages, err := listPackages()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arch-check: %v\n", err)
		os.Exit(1)
	}

	violations := collectViolations(packages)
	if len(violations) == 0 {
		_, _ = fmt.Fprintf(os.Stdout, "arch-check: passed\n")
		return
	}

	_, _ = fmt.Fprintf(os.Stdout, "arch-check: architecture violations:\n")
	for _, violation := range violations {
		_, _ = fmt.Fprintf(os.Stdout, "  - %s\n", violation)
	}
	os.Exit(1)
}

func listPackages() ([]listedPackage, error) {
	cmd := exec.Command("go", "list", "-json", "-test", "./...")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("go list -json -test ./...: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(stdout.Bytes()))
	result := make([]listedPackage, 0, 64)
	for {
		var pkg listedPackage
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode go list output: %w", err)
		}
		if pkg.ImportPath == "" {
			continue
		}
		result = append(result, pkg)
	}

	return result, nil
}

func collectViolations(packages []listedPackage) []string {
	found := make(map[string]struct{})

	for _, pkg := range packages {
		imports := append([]string{}, pkg.Imports...)
		imports = append(imports, pkg.TestImports...)
		imports = append(imports, pkg.XTestImports...)

		for _, imported := range imports {
			reason := violationReason(pkg.ImportPath, imported)
			if reason == "" {
				continue
			}
			entry := fmt.Sprintf("%s -> %s (%s)", pkg.ImportPath, imported, reason)
			found[entry] = struct{}{}
		}
	}

	violations := make([]string, 0, len(found))
	for violation := range found {
		violations = append(violations, violation)
	}
	sort.Strings(violations)

	return violations
}

// importRule forbids imports with importedPrefix from packages under importerPrefix.
// Prefixes ending in "/" match subpackages only.
type importRule struct {
	importerPrefix string
	importedPrefix string
	reason         string
}

var importRules = []importRule{
	{
		importerPrefix: modulePrefix + "pkg/",
		importedPrefix: modulePrefix + "internal/",
		reason:         "pkg/* must not import internal/*",
	},
	{
		importerPrefix: modulePrefix + "internal/web",
		importedPrefix: "github.com/gotd/",
		reason:         "internal/web must reach Telegram through tgview.Messenger",
	},
	{
		importerPrefix: modulePrefix + "internal/web",
		importedPrefix: modulePrefix + "internal/telegram",
		reason:         "internal/web must reach Telegram through tgview.Messenger",
	},
	{
		importerPrefix: modulePrefix + "internal/cache",
		importedPrefix: modulePrefix + "internal/web",
		reason:         "internal/cache must not depend on the HTTP layer",
	},
	{
		importerPrefix: modulePrefix + "internal/kernel",
		importedPrefix: modulePrefix + "internal/",
		reason:         "internal/kernel must not import other internal packages",
	},
	{
		importerPrefix: modulePrefix + "internal/digest",
		importedPrefix: modulePrefix + "pkg/llm/providers/",
		reason:         "internal/digest must resolve providers through the registry",
	},
}

func violationReason(importer, imported string) string {
	for _, rule := range importRules {
		if !strings.HasPrefix(importer, rule.importerPrefix) {
			continue
		}
		if !strings.HasPrefix(imported, rule.importedPrefix) {
			continue
		}
		if strings.HasPrefix(imported, rule.importerPrefix) {
			// Imports within the importer's own tree are always allowed.
			continue
		}
		return rule.reason
	}

	return ""
}
