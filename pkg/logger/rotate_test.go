package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterRollsOver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	w, err := newRotatingWriter(path, RotateConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.maxSize = 16
	t.Cleanup(func() { _ = w.Close() })

	for _, line := range []string{"first-line-abc\n", "second-line-xy\n", "third-line-xyz\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if !strings.Contains(string(current), "third") {
		t.Fatalf("expected newest line in current file, got %q", current)
	}
	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !strings.Contains(string(backup), "second") {
		t.Fatalf("expected previous line in backup, got %q", backup)
	}
	if _, err := os.Stat(path + ".2"); err != nil {
		t.Fatalf("expected second backup: %v", err)
	}
}

func TestInitWithAuditFile(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit", "garden.log")

	if err := Init(Config{Level: "debug", Format: "text", Audit: AuditConfig{Enabled: true, Path: auditPath}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = Sync()
		_ = Init(Config{})
	})

	Audit().Info("negotiation accepted", "counterparty", "0xabc")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if !strings.Contains(string(content), "negotiation accepted") {
		t.Fatalf("audit record missing: %q", content)
	}
}

func TestInitRejectsEmptyAuditPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatal("expected error for empty audit path")
	}
}
