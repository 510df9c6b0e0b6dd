package github

import (
	"errors"
	"testing"

	"github.com/bgricker/buildgate/internal/pipeline"
)

func envFunc(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestEventFromEnvPush(t *testing.T) {
	ev, err := EventFromEnv(envFunc(map[string]string{
		"GITHUB_EVENT_NAME": "push",
		"GITHUB_REF_NAME":   "master",
		"GITHUB_SHA":        "abc123",
		"GITHUB_REPOSITORY": "seung-lab/PyChunkedGraph",
	}))
	if err != nil {
		t.Fatalf("EventFromEnv: %v", err)
	}
	want := pipeline.Event{
		Type:       pipeline.EventPush,
		Branch:     "master",
		Commit:     "abc123",
		Repository: "seung-lab/PyChunkedGraph",
		CloneURL:   "https://github.com/seung-lab/PyChunkedGraph.git",
	}
	if ev != want {
		t.Fatalf("unexpected event:\n got: %+v\nwant: %+v", ev, want)
	}
}

func TestEventFromEnvPushRefFallback(t *testing.T) {
	ev, err := EventFromEnv(envFunc(map[string]string{
		"GITHUB_EVENT_NAME": "push",
		"GITHUB_REF":        "refs/heads/pcgv2",
		"GITHUB_SERVER_URL": "https://ghe.example.com/",
		"GITHUB_REPOSITORY": "org/repo",
	}))
	if err != nil {
		t.Fatalf("EventFromEnv: %v", err)
	}
	if ev.Branch != "pcgv2" || ev.CloneURL != "https://ghe.example.com/org/repo.git" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestEventFromEnvPullRequestUsesBaseBranch(t *testing.T) {
	ev, err := EventFromEnv(envFunc(map[string]string{
		"GITHUB_EVENT_NAME": "pull_request",
		"GITHUB_REF_NAME":   "42/merge",
		"GITHUB_BASE_REF":   "pcgv2",
		"GITHUB_HEAD_REF":   "feature/x",
	}))
	if err != nil {
		t.Fatalf("EventFromEnv: %v", err)
	}
	if ev.Type != pipeline.EventPullRequest || ev.Branch != "pcgv2" || ev.HeadBranch != "feature/x" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestEventFromEnvErrors(t *testing.T) {
	if _, err := EventFromEnv(envFunc(nil)); !errors.Is(err, ErrNoEvent) {
		t.Fatalf("expected ErrNoEvent, got %v", err)
	}
	if _, err := EventFromEnv(envFunc(map[string]string{"GITHUB_EVENT_NAME": "schedule"})); err == nil {
		t.Fatalf("expected unsupported event error")
	}
	if _, err := EventFromEnv(envFunc(map[string]string{"GITHUB_EVENT_NAME": "pull_request"})); err == nil {
		t.Fatalf("expected error for missing base branch")
	}
}
