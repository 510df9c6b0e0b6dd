package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotRepository is returned when dir is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// HeadCommit returns the full SHA of HEAD for the repository containing dir.
func HeadCommit(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", ErrNotRepository
		}
		return "", fmt.Errorf("open repository %q: %w", dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// CheckoutOptions select what to clone.
type CheckoutOptions struct {
	URL    string
	Branch string
	Commit string
	// Dir is the parent for the checkout; empty uses the OS temp dir.
	Dir string
}

// Checkout clones opts.URL into a fresh temporary directory and returns its
// path. When Commit is set the work tree is moved to that commit; otherwise a
// shallow clone of Branch is made. The caller removes the directory.
func Checkout(ctx context.Context, opts CheckoutOptions) (string, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return "", errors.New("checkout: repository URL is required")
	}
	dir, err := os.MkdirTemp(opts.Dir, "buildgate-src-*")
	if err != nil {
		return "", fmt.Errorf("create checkout dir: %w", err)
	}

	cloneOpts := &git.CloneOptions{URL: opts.URL}
	if opts.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
		cloneOpts.SingleBranch = true
	}
	if opts.Commit == "" {
		cloneOpts.Depth = 1
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, cloneOpts)
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("clone %s: %w", opts.URL, err)
	}

	if opts.Commit != "" {
		wt, err := repo.Worktree()
		if err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("open worktree: %w", err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(opts.Commit)}); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("checkout %s: %w", opts.Commit, err)
		}
	}
	return dir, nil
}
