package step

import (
	"context"

	"github.com/bgricker/buildgate/internal/credential"
)

// Registry establishes a session with a container registry. The returned
// token may be empty when the registry does not issue identity tokens.
type Registry interface {
	Login(ctx context.Context, creds credential.Credentials) (string, error)
}

// BuildRequest describes one image build.
type BuildRequest struct {
	ContextDir string
	Dockerfile string
	Tag        string
	BuildArgs  map[string]string
	Auth       *RegistryAuth
}

// Builder turns a build context into an image.
type Builder interface {
	// Build returns the reference of the built image and the tail of the
	// build output.
	Build(ctx context.Context, req BuildRequest) (ref string, log string, err error)
}

// RunRequest describes one containerized command.
type RunRequest struct {
	Image      string
	Command    string
	WorkingDir string
	Env        map[string]string
	// ArtifactPath is a file inside the container to copy out after a
	// successful run.
	ArtifactPath string
	// ArtifactDir is the host directory receiving the copied artifact.
	ArtifactDir string
	Auth        *RegistryAuth
}

// RunResponse is what the container runner observed.
type RunResponse struct {
	ExitCode int
	Output   string
	Artifact string
}

// ContainerRunner executes a command in a container built from an image.
type ContainerRunner interface {
	Run(ctx context.Context, req RunRequest) (RunResponse, error)
}
