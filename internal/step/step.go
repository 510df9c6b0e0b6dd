// Package step wraps the external actions a pipeline can perform. Each
// adapter invokes exactly one collaborator and folds whatever went wrong into
// a single pipeline.StepResult.
package step

import (
	"context"
	"sync"

	"github.com/bgricker/buildgate/internal/credential"
	"github.com/bgricker/buildgate/internal/pipeline"
)

// Adapter executes one step.
type Adapter interface {
	Execute(ctx context.Context, call Call) pipeline.StepResult
}

// AdapterFunc lets plain functions act as adapters.
type AdapterFunc func(ctx context.Context, call Call) pipeline.StepResult

// Execute calls f.
func (f AdapterFunc) Execute(ctx context.Context, call Call) pipeline.StepResult {
	return f(ctx, call)
}

// Call is everything an adapter needs for one invocation.
type Call struct {
	RunID     string
	Step      pipeline.Step
	Event     pipeline.Event
	Image     string
	Workspace string
	Session   *Session
}

// Session is per-run state shared between steps: the resolved credentials,
// the registry session established by authenticate, and the image produced
// by build. It never outlives its run.
type Session struct {
	mu          sync.Mutex
	credentials credential.Credentials
	hasCreds    bool
	token       string
	loggedIn    bool
	imageRef    string
}

// NewSession creates session state for a run.
func NewSession(creds credential.Credentials, ok bool) *Session {
	return &Session{credentials: creds, hasCreds: ok}
}

// Credentials returns the run's credentials, if any were resolved.
func (s *Session) Credentials() (credential.Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credentials, s.hasCreds
}

func (s *Session) setLogin(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = true
	s.token = token
}

// ImageRef is the reference produced by the build step.
func (s *Session) ImageRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imageRef
}

func (s *Session) setImage(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageRef = ref
}

// Close drops references to secret material.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials = credential.Credentials{}
	s.hasCreds = false
	s.token = ""
	s.loggedIn = false
}

// RegistryAuth is what a builder or runner needs to talk to the registry on
// behalf of an authenticated session.
type RegistryAuth struct {
	Credentials credential.Credentials
	Token       string
}

// Auth returns the registry auth for the session, or nil when no
// authenticate step has run.
func (s *Session) Auth() *RegistryAuth {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loggedIn || !s.hasCreds {
		return nil
	}
	return &RegistryAuth{Credentials: s.credentials, Token: s.token}
}
