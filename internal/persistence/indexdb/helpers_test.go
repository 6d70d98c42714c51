package indexdb

import (
	"os"
	"path/filepath"
	"testing"

	"gridcity.ai/internal/sim/catalogs"
	"gridcity.ai/internal/sim/tuning"
)

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	t.Fatalf("could not find repo root (go.mod) from %s", dir)
	return ""
}

func loadCatalogs(t *testing.T, root string) (*catalogs.Catalogs, tuning.Tuning) {
	t.Helper()
	cats, err := catalogs.Load(filepath.Join(root, "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats, tuning.Defaults()
}
