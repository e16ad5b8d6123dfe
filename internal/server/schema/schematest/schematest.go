// Package schematest loads the shared test schema (Team, Person, System) for
// tests in other packages.
package schematest

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/systemshift/bizops/internal/server/schema"
)

// Dir returns the path of the test schema directory
func Dir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "testdata", "schema")
}

// Snapshot loads the test schema or fails the test
func Snapshot(t testing.TB) *schema.Snapshot {
	t.Helper()
	snap, err := schema.LoadDir(Dir())
	if err != nil {
		t.Fatalf("loading test schema: %v", err)
	}
	return snap
}

// Registry wraps the test schema in a static registry
func Registry(t testing.TB) *schema.Registry {
	return schema.NewStaticRegistry(Snapshot(t))
}
