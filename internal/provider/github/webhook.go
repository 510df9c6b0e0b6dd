package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bgricker/buildgate/internal/pipeline"
)

// Webhook request headers.
const (
	HeaderEvent     = "X-GitHub-Event"
	HeaderDelivery  = "X-GitHub-Delivery"
	HeaderSignature = "X-Hub-Signature-256"
)

// ErrUnhandledEvent marks deliveries that do not map to a pipeline event,
// such as ping or a branch deletion.
var ErrUnhandledEvent = errors.New("unhandled webhook event")

// VerifySignature checks an X-Hub-Signature-256 header against body.
func VerifySignature(secret, body []byte, signature string) error {
	if len(secret) == 0 {
		return errors.New("webhook HMAC: secret is empty")
	}
	if signature == "" {
		return errors.New("webhook HMAC: signature is empty")
	}

	// Strip the "sha256=" prefix if present (GitHub convention).
	signatureBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return fmt.Errorf("webhook HMAC: invalid hex signature: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if subtle.ConstantTimeCompare(mac.Sum(nil), signatureBytes) != 1 {
		return errors.New("webhook HMAC: signature mismatch")
	}
	return nil
}

// Sign computes the X-Hub-Signature-256 value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type ghRepository struct {
	FullName string `json:"full_name"`
	CloneURL string `json:"clone_url"`
}

type ghPushPayload struct {
	Ref        string       `json:"ref"`   // "refs/heads/main"
	After      string       `json:"after"` // new HEAD SHA
	Deleted    bool         `json:"deleted"`
	Repository ghRepository `json:"repository"`
}

type ghBranchRef struct {
	Ref  string        `json:"ref"`
	SHA  string        `json:"sha"`
	Repo *ghRepository `json:"repo"`
}

type ghPullRequestPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Head ghBranchRef `json:"head"`
		Base ghBranchRef `json:"base"`
	} `json:"pull_request"`
	Repository ghRepository `json:"repository"`
}

// pullRequestActions are the actions that change the code under test.
var pullRequestActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

// TranslateWebhook converts a webhook payload into an Event. Deliveries that
// cannot start a run return an error wrapping ErrUnhandledEvent.
func TranslateWebhook(eventName string, body []byte) (pipeline.Event, error) {
	switch eventName {
	case "push":
		return translatePush(body)
	case "pull_request":
		return translatePullRequest(body)
	default:
		return pipeline.Event{}, fmt.Errorf("%w: %s", ErrUnhandledEvent, eventName)
	}
}

func translatePush(body []byte) (pipeline.Event, error) {
	var payload ghPushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return pipeline.Event{}, fmt.Errorf("parsing push payload: %w", err)
	}
	if payload.Deleted {
		return pipeline.Event{}, fmt.Errorf("%w: push deleting %s", ErrUnhandledEvent, payload.Ref)
	}
	branch, ok := strings.CutPrefix(payload.Ref, "refs/heads/")
	if !ok {
		return pipeline.Event{}, fmt.Errorf("%w: push to %s", ErrUnhandledEvent, payload.Ref)
	}
	return pipeline.Event{
		Type:       pipeline.EventPush,
		Branch:     branch,
		Commit:     payload.After,
		Repository: payload.Repository.FullName,
		CloneURL:   payload.Repository.CloneURL,
	}, nil
}

func translatePullRequest(body []byte) (pipeline.Event, error) {
	var payload ghPullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return pipeline.Event{}, fmt.Errorf("parsing pull_request payload: %w", err)
	}
	if !pullRequestActions[payload.Action] {
		return pipeline.Event{}, fmt.Errorf("%w: pull_request %s", ErrUnhandledEvent, payload.Action)
	}
	// The head commit lives in the head repository, which differs from the
	// base repository for pull requests from forks.
	cloneURL := payload.Repository.CloneURL
	if head := payload.PullRequest.Head.Repo; head != nil && head.CloneURL != "" {
		cloneURL = head.CloneURL
	}
	return pipeline.Event{
		Type:       pipeline.EventPullRequest,
		Branch:     payload.PullRequest.Base.Ref,
		HeadBranch: payload.PullRequest.Head.Ref,
		Commit:     payload.PullRequest.Head.SHA,
		Repository: payload.Repository.FullName,
		CloneURL:   cloneURL,
	}, nil
}
