package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func initRepo(t *testing.T) (string, []plumbing.Hash) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	sig := &object.Signature{Name: "ci", Email: "ci@example.com", When: time.Unix(1700000000, 0)}

	var hashes []plumbing.Hash
	for _, content := range []string{"FROM alpine\n", "FROM alpine:3.20\n"} {
		if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(content), 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
		if _, err := wt.Add("Dockerfile"); err != nil {
			t.Fatalf("add: %v", err)
		}
		hash, err := wt.Commit("update", &git.CommitOptions{Author: sig})
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
		hashes = append(hashes, hash)
	}
	return dir, hashes
}

func TestHeadCommit(t *testing.T) {
	dir, hashes := initRepo(t)
	sub := filepath.Join(dir, "nested")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := HeadCommit(sub)
	if err != nil {
		t.Fatalf("HeadCommit: %v", err)
	}
	if got != hashes[1].String() {
		t.Fatalf("expected %s, got %s", hashes[1], got)
	}
}

func TestHeadCommitNotRepository(t *testing.T) {
	if _, err := HeadCommit(t.TempDir()); !errors.Is(err, ErrNotRepository) {
		t.Fatalf("expected ErrNotRepository, got %v", err)
	}
}

func TestCheckoutLocalCommit(t *testing.T) {
	origin, hashes := initRepo(t)

	dir, err := Checkout(context.Background(), CheckoutOptions{URL: origin, Commit: hashes[0].String()})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	data, err := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	if err != nil {
		t.Fatalf("read checkout: %v", err)
	}
	if string(data) != "FROM alpine\n" {
		t.Fatalf("expected first commit contents, got %q", data)
	}
}

func TestCheckoutRequiresURL(t *testing.T) {
	if _, err := Checkout(context.Background(), CheckoutOptions{}); err == nil {
		t.Fatalf("expected error for empty URL")
	}
}
