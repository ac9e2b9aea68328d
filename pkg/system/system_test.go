package system

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureDirAndIsPathExist(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if IsPathExist(dir) {
		t.Fatalf("%q should not exist yet", dir)
	}
	if err := EnsureDir(dir, 0o700); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}
	if !IsPathExist(dir) {
		t.Fatalf("IsPathExist = false after create")
	}
}

func TestRaiseOpenFileLimit(t *testing.T) {
	if err := RaiseOpenFileLimit(); err != nil {
		t.Fatalf("RaiseOpenFileLimit: %v", err)
	}
}

func TestGetTerminalTypeDefault(t *testing.T) {
	t.Setenv("TERM", "")
	if got := GetTerminalType(); got != "xterm-256color" {
		t.Fatalf("GetTerminalType = %q", got)
	}
}
