package step

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bgricker/buildgate/internal/pipeline"
	"github.com/bgricker/buildgate/internal/source"
)

// AuthenticateAdapter logs in to the run's registry.
type AuthenticateAdapter struct {
	Registry Registry
}

// Execute implements Adapter.
func (a *AuthenticateAdapter) Execute(ctx context.Context, call Call) pipeline.StepResult {
	creds, ok := call.Session.Credentials()
	if !ok {
		return pipeline.Failed(call.Step, "authentication failure: no credentials resolved for this run")
	}
	if !creds.Valid() {
		return pipeline.Failed(call.Step, fmt.Sprintf("authentication failure: malformed credentials for %s", creds.Registry))
	}
	token, err := a.Registry.Login(ctx, creds)
	if err != nil {
		return pipeline.Failed(call.Step, "authentication failure: "+err.Error())
	}
	call.Session.setLogin(token)
	return pipeline.OK(call.Step, "logged in to "+creds.Registry)
}

// BuildImageAdapter builds the repository image.
type BuildImageAdapter struct {
	Builder Builder
}

// Execute implements Adapter.
func (a *BuildImageAdapter) Execute(ctx context.Context, call Call) pipeline.StepResult {
	cfg := call.Step.With
	tag := strings.TrimSpace(cfg.Tag)
	if tag == "" {
		var err error
		tag, err = ImageTag(call.Image, call.Event.Commit, call.Workspace)
		if err != nil {
			return pipeline.Failed(call.Step, "build failure: "+err.Error())
		}
	}

	req := BuildRequest{
		ContextDir: resolvePath(call.Workspace, cfg.Context),
		Dockerfile: cfg.Dockerfile,
		Tag:        tag,
		BuildArgs:  cfg.BuildArgs,
		Auth:       call.Session.Auth(),
	}
	ref, log, err := a.Builder.Build(ctx, req)
	if err != nil {
		res := pipeline.Failed(call.Step, "build failure: "+err.Error())
		res.Log = log
		return res
	}
	if ref == "" {
		ref = tag
	}
	call.Session.setImage(ref)
	res := pipeline.OK(call.Step, "built "+ref)
	res.Reference = ref
	res.Log = log
	return res
}

// RunCommandAdapter runs the test command inside the built image.
type RunCommandAdapter struct {
	Runner ContainerRunner
	// ArtifactDir receives coverage artifacts, one subdirectory per run.
	ArtifactDir string
}

// Execute implements Adapter.
func (a *RunCommandAdapter) Execute(ctx context.Context, call Call) pipeline.StepResult {
	cfg := call.Step.With
	image := strings.TrimSpace(cfg.Image)
	if image == "" {
		image = call.Session.ImageRef()
	}
	if image == "" {
		return pipeline.Failed(call.Step, "test failure: no image to run; add a build_image step or set with.image")
	}

	req := RunRequest{
		Image:        image,
		Command:      cfg.Command,
		WorkingDir:   cfg.WorkingDir,
		Env:          cfg.Env,
		ArtifactPath: cfg.Coverage,
		Auth:         call.Session.Auth(),
	}
	if cfg.Coverage != "" {
		base := a.ArtifactDir
		if base == "" {
			base = filepath.Join(call.Workspace, ".buildgate", "artifacts")
		}
		req.ArtifactDir = filepath.Join(base, call.RunID)
	}

	resp, err := a.Runner.Run(ctx, req)
	if err != nil {
		res := pipeline.Failed(call.Step, "test failure: "+err.Error())
		res.Log = resp.Output
		return res
	}
	if resp.ExitCode != 0 {
		res := pipeline.Failed(call.Step, fmt.Sprintf("test failure: command exited with status %d", resp.ExitCode))
		res.Log = resp.Output
		return res
	}
	res := pipeline.OK(call.Step, "command exited 0")
	res.Reference = resp.Artifact
	res.Log = resp.Output
	return res
}

// ImageTag derives {image}:{commit}. The commit comes from the event, then
// the workspace HEAD, then falls back to "latest".
func ImageTag(image, commit, workspace string) (string, error) {
	image = strings.TrimSpace(image)
	if image == "" {
		return "", errors.New("no image name configured")
	}
	if hasTag(image) {
		return image, nil
	}
	commit = strings.TrimSpace(commit)
	if commit == "" && workspace != "" {
		if head, err := source.HeadCommit(workspace); err == nil {
			commit = head
		}
	}
	if commit == "" {
		commit = "latest"
	}
	return image + ":" + commit, nil
}

// hasTag reports whether ref already carries a tag or digest. A colon in the
// registry host (host:port) does not count.
func hasTag(ref string) bool {
	if strings.Contains(ref, "@") {
		return true
	}
	last := ref
	if idx := strings.LastIndex(ref, "/"); idx != -1 {
		last = ref[idx+1:]
	}
	return strings.Contains(last, ":")
}

func resolvePath(root, rel string) string {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		rel = "."
	}
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(root, rel)
}

// Adapters binds one adapter per action.
func Adapters(registry Registry, builder Builder, runner ContainerRunner, artifactDir string) map[pipeline.Action]Adapter {
	return map[pipeline.Action]Adapter{
		pipeline.ActionAuthenticate: &AuthenticateAdapter{Registry: registry},
		pipeline.ActionBuildImage:   &BuildImageAdapter{Builder: builder},
		pipeline.ActionRunCommand:   &RunCommandAdapter{Runner: runner, ArtifactDir: artifactDir},
	}
}
