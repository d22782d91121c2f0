package localstate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDataDir_EnvOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	t.Setenv(envHome, dir)

	got, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if got != dir {
		t.Fatalf("expected %s, got %s", dir, got)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("data dir not created: %v", err)
	}

	p, err := DBPath()
	if err != nil {
		t.Fatalf("DBPath: %v", err)
	}
	if p != filepath.Join(dir, dbFilename) {
		t.Fatalf("unexpected db path %s", p)
	}
}
