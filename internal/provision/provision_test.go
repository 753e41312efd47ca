package provision

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gutmensch/bridgenat-controller/internal/api"
)

func TestEnsureCreatesTree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ra-bridge")
	specs := []api.DirectorySpec{
		{Path: root, Mode: 0755},
		{Path: filepath.Join(root, "certs"), Mode: 0700},
	}

	if err := EnsureAll(specs); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	for _, spec := range specs {
		info, err := os.Stat(spec.Path)
		if err != nil {
			t.Fatalf("stat %s: %v", spec.Path, err)
		}
		if !info.IsDir() {
			t.Fatalf("%s is not a directory", spec.Path)
		}
		if info.Mode().Perm() != spec.Mode.Perm() {
			t.Fatalf("%s mode = %04o, want %04o", spec.Path, info.Mode().Perm(), spec.Mode.Perm())
		}
	}
}

func TestEnsureIdempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ra-bridge")
	spec := api.DirectorySpec{Path: root, Mode: 0755}

	if err := Ensure(spec); err != nil {
		t.Fatalf("first ensure failed: %v", err)
	}
	if err := Ensure(spec); err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
}

func TestEnsureCorrectsMode(t *testing.T) {
	root := filepath.Join(t.TempDir(), "certs")
	if err := os.Mkdir(root, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := Ensure(api.DirectorySpec{Path: root, Mode: 0700}); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0700 {
		t.Fatalf("mode = %04o, want 0700", info.Mode().Perm())
	}
}

func TestEnsureRejectsFileAtPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	err := Ensure(api.DirectorySpec{Path: path, Mode: 0755})
	if err == nil {
		t.Fatal("expected provisioning error for file at directory path")
	}
	if _, ok := err.(*api.ProvisioningError); !ok {
		t.Fatalf("expected ProvisioningError, got %T", err)
	}
}
