package step

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgricker/buildgate/internal/credential"
	"github.com/bgricker/buildgate/internal/pipeline"
)

type fakeRegistry struct {
	token string
	err   error
	got   []credential.Credentials
}

func (f *fakeRegistry) Login(_ context.Context, creds credential.Credentials) (string, error) {
	f.got = append(f.got, creds)
	return f.token, f.err
}

type fakeBuilder struct {
	ref  string
	err  error
	reqs []BuildRequest
}

func (f *fakeBuilder) Build(_ context.Context, req BuildRequest) (string, string, error) {
	f.reqs = append(f.reqs, req)
	return f.ref, "Step 1/1 : FROM alpine", f.err
}

type fakeRunner struct {
	resp RunResponse
	err  error
	reqs []RunRequest
}

func (f *fakeRunner) Run(_ context.Context, req RunRequest) (RunResponse, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

var testCreds = credential.Credentials{Registry: "gcr.io", Principal: "_json_key", Secret: "{}"}

func TestAuthenticateSuccessEstablishesSession(t *testing.T) {
	reg := &fakeRegistry{token: "tok"}
	session := NewSession(testCreds, true)
	a := &AuthenticateAdapter{Registry: reg}

	res := a.Execute(context.Background(), Call{Step: pipeline.Step{Name: "login", Action: pipeline.ActionAuthenticate}, Session: session})

	require.Equal(t, pipeline.OutcomeOK, res.Outcome)
	assert.Equal(t, "login", res.StepName)
	auth := session.Auth()
	require.NotNil(t, auth)
	assert.Equal(t, "tok", auth.Token)
	assert.Equal(t, testCreds, auth.Credentials)
	assert.Len(t, reg.got, 1)
}

func TestAuthenticateFailures(t *testing.T) {
	step := pipeline.Step{Name: "login", Action: pipeline.ActionAuthenticate}

	res := (&AuthenticateAdapter{Registry: &fakeRegistry{}}).Execute(context.Background(), Call{Step: step, Session: NewSession(credential.Credentials{}, false)})
	assert.Equal(t, pipeline.OutcomeError, res.Outcome)

	malformed := credential.Credentials{Registry: "gcr.io", Principal: "_json_key"}
	reg := &fakeRegistry{}
	res = (&AuthenticateAdapter{Registry: reg}).Execute(context.Background(), Call{Step: step, Session: NewSession(malformed, true)})
	assert.Equal(t, pipeline.OutcomeError, res.Outcome)
	assert.Contains(t, res.Detail, "malformed")
	assert.Empty(t, reg.got, "registry must not be called with malformed credentials")

	session := NewSession(testCreds, true)
	res = (&AuthenticateAdapter{Registry: &fakeRegistry{err: errors.New("denied")}}).Execute(context.Background(), Call{Step: step, Session: session})
	assert.Equal(t, pipeline.OutcomeError, res.Outcome)
	assert.Contains(t, res.Detail, "denied")
	assert.Nil(t, session.Auth())
}

func TestBuildImageTagAndSession(t *testing.T) {
	builder := &fakeBuilder{}
	session := NewSession(testCreds, true)
	session.setLogin("")
	a := &BuildImageAdapter{Builder: builder}
	workspace := t.TempDir()

	res := a.Execute(context.Background(), Call{
		Step:      pipeline.Step{Name: "build", Action: pipeline.ActionBuildImage, With: pipeline.StepConfig{Context: "docker"}},
		Event:     pipeline.Event{Commit: "abc123"},
		Image:     "seunglab/pychunkedgraph",
		Workspace: workspace,
		Session:   session,
	})

	require.Equal(t, pipeline.OutcomeOK, res.Outcome, res.Detail)
	assert.Equal(t, "seunglab/pychunkedgraph:abc123", res.Reference)
	assert.Equal(t, "seunglab/pychunkedgraph:abc123", session.ImageRef())
	require.Len(t, builder.reqs, 1)
	assert.Equal(t, filepath.Join(workspace, "docker"), builder.reqs[0].ContextDir)
	assert.NotNil(t, builder.reqs[0].Auth)
}

func TestBuildImageFailure(t *testing.T) {
	builder := &fakeBuilder{err: errors.New("registry timeout")}
	session := NewSession(testCreds, true)
	res := (&BuildImageAdapter{Builder: builder}).Execute(context.Background(), Call{
		Step:    pipeline.Step{Name: "build", Action: pipeline.ActionBuildImage, With: pipeline.StepConfig{Tag: "app:dev"}},
		Session: session,
	})
	assert.Equal(t, pipeline.OutcomeError, res.Outcome)
	assert.Contains(t, res.Detail, "registry timeout")
	assert.Empty(t, session.ImageRef())
}

func TestBuildImageWithoutImageName(t *testing.T) {
	builder := &fakeBuilder{}
	res := (&BuildImageAdapter{Builder: builder}).Execute(context.Background(), Call{
		Step:    pipeline.Step{Name: "build", Action: pipeline.ActionBuildImage},
		Session: NewSession(credential.Credentials{}, false),
	})
	assert.Equal(t, pipeline.OutcomeError, res.Outcome)
	assert.Empty(t, builder.reqs)
}

func TestRunCommandUsesBuiltImage(t *testing.T) {
	runner := &fakeRunner{resp: RunResponse{ExitCode: 0, Output: "3 passed", Artifact: "/tmp/cov.xml"}}
	session := NewSession(credential.Credentials{}, false)
	session.setImage("app:abc")

	res := (&RunCommandAdapter{Runner: runner, ArtifactDir: "/artifacts"}).Execute(context.Background(), Call{
		RunID:   "run1",
		Step:    pipeline.Step{Name: "test", Action: pipeline.ActionRunCommand, With: pipeline.StepConfig{Command: "pytest", Coverage: "/app/coverage.xml"}},
		Session: session,
	})

	require.Equal(t, pipeline.OutcomeOK, res.Outcome)
	assert.Equal(t, "/tmp/cov.xml", res.Reference)
	require.Len(t, runner.reqs, 1)
	assert.Equal(t, "app:abc", runner.reqs[0].Image)
	assert.Equal(t, filepath.Join("/artifacts", "run1"), runner.reqs[0].ArtifactDir)
}

func TestRunCommandFailures(t *testing.T) {
	step := pipeline.Step{Name: "test", Action: pipeline.ActionRunCommand, With: pipeline.StepConfig{Command: "pytest", Image: "app:1"}}

	res := (&RunCommandAdapter{Runner: &fakeRunner{resp: RunResponse{ExitCode: 2, Output: "1 failed"}}}).Execute(context.Background(), Call{Step: step, Session: NewSession(credential.Credentials{}, false)})
	assert.Equal(t, pipeline.OutcomeError, res.Outcome)
	assert.Contains(t, res.Detail, "status 2")
	assert.Equal(t, "1 failed", res.Log)

	res = (&RunCommandAdapter{Runner: &fakeRunner{err: errors.New("daemon unreachable")}}).Execute(context.Background(), Call{Step: step, Session: NewSession(credential.Credentials{}, false)})
	assert.Equal(t, pipeline.OutcomeError, res.Outcome)
	assert.Contains(t, res.Detail, "daemon unreachable")

	noImage := pipeline.Step{Name: "test", Action: pipeline.ActionRunCommand, With: pipeline.StepConfig{Command: "pytest"}}
	runner := &fakeRunner{}
	res = (&RunCommandAdapter{Runner: runner}).Execute(context.Background(), Call{Step: noImage, Session: NewSession(credential.Credentials{}, false)})
	assert.Equal(t, pipeline.OutcomeError, res.Outcome)
	assert.Empty(t, runner.reqs)
}

func TestImageTag(t *testing.T) {
	cases := []struct {
		image, commit, want string
	}{
		{"org/app", "deadbeef", "org/app:deadbeef"},
		{"org/app:v1", "deadbeef", "org/app:v1"},
		{"localhost:5000/org/app", "abc", "localhost:5000/org/app:abc"},
		{"org/app@sha256:aaa", "abc", "org/app@sha256:aaa"},
		{"org/app", "", "org/app:latest"},
	}
	for _, tc := range cases {
		got, err := ImageTag(tc.image, tc.commit, t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
	_, err := ImageTag(" ", "abc", "")
	assert.Error(t, err)
}

func TestSessionClose(t *testing.T) {
	session := NewSession(testCreds, true)
	session.setLogin("tok")
	session.Close()
	_, ok := session.Credentials()
	assert.False(t, ok)
	assert.Nil(t, session.Auth())
	assert.Empty(t, session.token)
}
