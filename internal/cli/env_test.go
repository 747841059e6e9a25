package cli

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadReadsFlagPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "phrasesync.env")
	if err := os.WriteFile(path, []byte("PHRASESYNC_TEST_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(OverrideVar, "")
	t.Setenv("PHRASESYNC_TEST_VALUE", "from-process")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := AddEnvFlag(fs, filepath.Join(dir, "missing.env"), "")
	if err := fs.Parse([]string{"--env", path}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	loaded, err := loader.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded != path {
		t.Fatalf("unexpected loaded path: got %q want %q", loaded, path)
	}
	if got := os.Getenv("PHRASESYNC_TEST_VALUE"); got != "from-file" {
		t.Fatalf("unexpected value: got %q want from-file", got)
	}
}

func TestLoadOptionalToleratesMissingFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(OverrideVar, "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := AddEnvFlag(fs, filepath.Join(dir, "nope.env"), "")
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	if _, err := loader.Load(); !errors.Is(err, ErrNoEnvFile) {
		t.Fatalf("unexpected Load error: got %v want ErrNoEnvFile", err)
	}
	path, err := loader.LoadOptional()
	if err != nil {
		t.Fatalf("LoadOptional returned error: %v", err)
	}
	if path != "" {
		t.Fatalf("unexpected path: got %q want empty", path)
	}
}
