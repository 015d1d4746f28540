package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureWorkspaceFiles_SeedsOnce(t *testing.T) {
	dir := t.TempDir()

	created, err := EnsureWorkspaceFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 2 {
		t.Fatalf("created = %v, want both standing files", created)
	}
	for _, name := range created {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not on disk: %v", name, err)
		}
	}

	// Second run must not touch anything.
	created, err = EnsureWorkspaceFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 0 {
		t.Errorf("second run created %v, want none", created)
	}
}

func TestEnsureWorkspaceFiles_DoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	custom := []byte("my own instructions\n")
	if err := os.WriteFile(filepath.Join(dir, AgentFile), custom, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := EnsureWorkspaceFiles(dir); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dir, AgentFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(custom) {
		t.Error("existing file was overwritten")
	}
}

func TestReadTemplate(t *testing.T) {
	content, err := ReadTemplate(MemoryFile)
	if err != nil {
		t.Fatal(err)
	}
	if content == "" {
		t.Error("empty template")
	}
}
