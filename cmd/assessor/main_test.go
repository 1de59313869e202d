package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/brightpath/assessor/internal/store"
)

func TestAdminTokenHash(t *testing.T) {
	h, err := adminTokenHash("", "")
	if err != nil || h != nil {
		t.Fatalf("adminTokenHash(empty) = %v, %v; want nil, nil", h, err)
	}

	h, err = adminTokenHash("s3cret", "")
	if err != nil {
		t.Fatalf("adminTokenHash(token): %v", err)
	}
	if err := bcrypt.CompareHashAndPassword(h, []byte("s3cret")); err != nil {
		t.Errorf("generated hash does not match token: %v", err)
	}

	pre, _ := bcrypt.GenerateFromPassword([]byte("other"), bcrypt.MinCost)
	h, err = adminTokenHash("ignored", string(pre))
	if err != nil || string(h) != string(pre) {
		t.Errorf("adminTokenHash(hash) = %q, %v; want the supplied hash", h, err)
	}

	if _, err := adminTokenHash("", "not-a-hash"); err == nil {
		t.Error("expected error for malformed hash")
	}
}

func TestImportSampleBank(t *testing.T) {
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	sample := filepath.Join("..", "..", "questions", "sample.json")
	if _, err := os.Stat(sample); err != nil {
		t.Skipf("sample bank not found: %v", err)
	}
	if err := importFiles(ctx, db, []string{sample}); err != nil {
		t.Fatalf("importFiles: %v", err)
	}
	if err := importFiles(ctx, db, []string{sample}); err != nil {
		t.Fatalf("importFiles (again): %v", err)
	}
	count, err := db.QuestionCount(ctx)
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != 12 {
		t.Errorf("QuestionCount = %d, want 12", count)
	}
}
