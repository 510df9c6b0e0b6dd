package github

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bgricker/buildgate/internal/pipeline"
)

// ErrNoEvent is returned when the environment does not describe an Actions
// event.
var ErrNoEvent = errors.New("GITHUB_EVENT_NAME is not set")

const defaultServerURL = "https://github.com"

// EventFromEnv reads the event that triggered a GitHub Actions job from its
// environment. getenv is usually os.Getenv.
func EventFromEnv(getenv func(string) string) (pipeline.Event, error) {
	name := strings.TrimSpace(getenv("GITHUB_EVENT_NAME"))
	if name == "" {
		return pipeline.Event{}, ErrNoEvent
	}
	evType, err := pipeline.ParseEventType(name)
	if err != nil {
		return pipeline.Event{}, err
	}

	ev := pipeline.Event{
		Type:       evType,
		Commit:     getenv("GITHUB_SHA"),
		Repository: getenv("GITHUB_REPOSITORY"),
	}
	if ev.Repository != "" {
		server := strings.TrimSuffix(getenv("GITHUB_SERVER_URL"), "/")
		if server == "" {
			server = defaultServerURL
		}
		ev.CloneURL = server + "/" + ev.Repository + ".git"
	}

	switch evType {
	case pipeline.EventPush:
		ev.Branch = getenv("GITHUB_REF_NAME")
		if ev.Branch == "" {
			ev.Branch = strings.TrimPrefix(getenv("GITHUB_REF"), "refs/heads/")
		}
	case pipeline.EventPullRequest:
		ev.Branch = getenv("GITHUB_BASE_REF")
		ev.HeadBranch = getenv("GITHUB_HEAD_REF")
	}
	if ev.Branch == "" {
		return pipeline.Event{}, fmt.Errorf("%s event without a target branch", evType)
	}
	return ev, nil
}
