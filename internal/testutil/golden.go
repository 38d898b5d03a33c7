// Package testutil provides golden-file comparison helpers shared across
// the engine's package-level tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"
)

var update = flag.Bool("update", false, "update golden files")

func goldenPath(name string) string {
	return filepath.Join("testdata", name+".golden")
}

func writeGolden(t *testing.T, name string, v any) {
	t.Helper()
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("testutil: marshal golden %s: %v", name, err)
	}
	if err := os.MkdirAll("testdata", 0o755); err != nil {
		t.Fatalf("testutil: create testdata dir: %v", err)
	}
	if err := os.WriteFile(goldenPath(name), b, 0o644); err != nil {
		t.Fatalf("testutil: write golden %s: %v", name, err)
	}
}

// CompareWithGolden marshals v and compares it against testdata/<name>.golden.
// Run with -update to (re)write the golden file from the current value.
func CompareWithGolden(t *testing.T, name string, v any) {
	t.Helper()

	actual, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("testutil: marshal actual %s: %v", name, err)
	}

	if *update {
		writeGolden(t, name, v)
		return
	}

	expected, err := os.ReadFile(goldenPath(name))
	if err != nil {
		t.Fatalf("testutil: read golden %s (run with -update to create it): %v", name, err)
	}

	if !bytes.Equal(expected, actual) {
		t.Fatalf("golden mismatch for %s\nexpected:\n%s\nactual:\n%s", name, expected, actual)
	}
}
