package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"github.com/bgricker/buildgate/internal/credential"
	"github.com/bgricker/buildgate/internal/step"
)

// cleanupTimeout bounds container removal after a run, which uses a fresh
// context so a host timeout still cleans up.
const cleanupTimeout = 30 * time.Second

// Client implements step.Registry, step.Builder and step.ContainerRunner on
// top of the Docker Engine API.
type Client struct {
	cli *client.Client
}

// NewClient connects using the standard DOCKER_* environment.
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Login authenticates against creds.Registry.
func (c *Client) Login(ctx context.Context, creds credential.Credentials) (string, error) {
	body, err := c.cli.RegistryLogin(ctx, authConfig(creds, ""))
	if err != nil {
		return "", fmt.Errorf("registry login %s: %w", creds.Registry, err)
	}
	zerolog.Ctx(ctx).Debug().Object("credentials", creds).Str("status", body.Status).Msg("registry login")
	return body.IdentityToken, nil
}

// Build tars the build context and builds req.Tag.
func (c *Client) Build(ctx context.Context, req step.BuildRequest) (string, string, error) {
	tar, err := archive.TarWithOptions(req.ContextDir, &archive.TarOptions{})
	if err != nil {
		return "", "", fmt.Errorf("failed to create build context: %w", err)
	}
	defer tar.Close()

	dockerfile := req.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	opts := types.ImageBuildOptions{
		Tags:       []string{req.Tag},
		Dockerfile: dockerfile,
		Remove:     true,
		BuildArgs:  buildArgs(req.BuildArgs),
	}
	if req.Auth != nil {
		opts.AuthConfigs = map[string]registry.AuthConfig{
			req.Auth.Credentials.Registry: authConfig(req.Auth.Credentials, req.Auth.Token),
		}
	}

	resp, err := c.cli.ImageBuild(ctx, tar, opts)
	if err != nil {
		return "", "", fmt.Errorf("failed to build image: %w", err)
	}
	defer resp.Body.Close()

	// The daemon reports build errors inside the message stream, so it has
	// to be read to the end to know whether the build worked.
	var out bytes.Buffer
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, &out, 0, false, nil); err != nil {
		return "", out.String(), fmt.Errorf("build %s: %w", req.Tag, err)
	}
	return req.Tag, out.String(), nil
}

// Run creates a container from req.Image, runs req.Command through sh -c,
// waits for it, collects output and the optional artifact, then removes the
// container.
func (c *Client) Run(ctx context.Context, req step.RunRequest) (step.RunResponse, error) {
	if err := c.ensureImage(ctx, req.Image, req.Auth); err != nil {
		return step.RunResponse{}, err
	}

	created, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image:      req.Image,
		Cmd:        []string{"sh", "-c", req.Command},
		WorkingDir: req.WorkingDir,
		Env:        envList(req.Env),
	}, nil, nil, nil, "")
	if err != nil {
		return step.RunResponse{}, fmt.Errorf("failed to create container: %w", err)
	}
	defer c.remove(ctx, created.ID)

	if err := c.cli.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return step.RunResponse{}, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := c.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return step.RunResponse{Output: c.logs(created.ID)}, fmt.Errorf("wait for container: %w", err)
		}
	case status := <-statusCh:
		if status.Error != nil {
			return step.RunResponse{Output: c.logs(created.ID)}, fmt.Errorf("container wait: %s", status.Error.Message)
		}
		exitCode = int(status.StatusCode)
	}

	resp := step.RunResponse{ExitCode: exitCode, Output: c.logs(created.ID)}
	if exitCode != 0 || req.ArtifactPath == "" {
		return resp, nil
	}

	reader, _, err := c.cli.CopyFromContainer(ctx, created.ID, req.ArtifactPath)
	if err != nil {
		return resp, fmt.Errorf("copy artifact %s: %w", req.ArtifactPath, err)
	}
	defer reader.Close()
	path, err := extractFile(reader, req.ArtifactDir)
	if err != nil {
		return resp, fmt.Errorf("extract artifact %s: %w", req.ArtifactPath, err)
	}
	resp.Artifact = path
	return resp, nil
}

func (c *Client) ensureImage(ctx context.Context, image string, auth *step.RegistryAuth) error {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, image)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect image %s: %w", image, err)
	}

	opts := types.ImagePullOptions{}
	if auth != nil {
		encoded, err := registry.EncodeAuthConfig(authConfig(auth.Credentials, auth.Token))
		if err != nil {
			return fmt.Errorf("encode registry auth: %w", err)
		}
		opts.RegistryAuth = encoded
	}
	reader, err := c.cli.ImagePull(ctx, image, opts)
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("pull %s: %w", image, err)
	}
	return nil
}

func (c *Client) logs(id string) string {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	rc, err := c.cli.ContainerLogs(ctx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return ""
	}
	defer rc.Close()
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return stdout.String()
	}
	if stderr.Len() == 0 {
		return stdout.String()
	}
	return stdout.String() + stderr.String()
}

func (c *Client) remove(ctx context.Context, id string) {
	rmCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := c.cli.ContainerRemove(rmCtx, id, types.ContainerRemoveOptions{Force: true}); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("container", id).Msg("remove container")
	}
}

func authConfig(creds credential.Credentials, token string) registry.AuthConfig {
	cfg := registry.AuthConfig{
		Username:      creds.Principal,
		Password:      creds.Secret,
		ServerAddress: creds.Registry,
	}
	if token != "" {
		cfg.IdentityToken = token
	}
	return cfg
}

func buildArgs(in map[string]string) map[string]*string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]*string, len(in))
	for k, v := range in {
		v := v
		out[k] = &v
	}
	return out
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
