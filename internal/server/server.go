package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bgricker/buildgate/internal/pipeline"
	"github.com/bgricker/buildgate/internal/runner"
	"github.com/bgricker/buildgate/internal/trigger"
)

// maxWebhookBody matches the largest payload GitHub will deliver.
const maxWebhookBody = 25 << 20

// ErrNoSecret is returned when the server is built without a webhook secret.
var ErrNoSecret = errors.New("webhook secret is required")

// ExecuteFunc runs one accepted event as run id, reporting progress to obs.
type ExecuteFunc func(ctx context.Context, id string, event pipeline.Event, obs runner.Observer) (*pipeline.Run, error)

// Options configure the webhook server.
type Options struct {
	Definition    pipeline.Definition
	Secret        []byte
	Execute       ExecuteFunc
	MaxConcurrent int
	DedupWindow   time.Duration
	Logger        zerolog.Logger
}

// Server receives repository webhooks and dispatches matching events to the
// executor, at most MaxConcurrent at a time.
type Server struct {
	opts       Options
	matcher    *trigger.Matcher
	app        *fiber.App
	runs       *runStore
	deliveries *deliveries
	group      errgroup.Group
	ctx        context.Context
	cancel     context.CancelFunc
}

// New validates opts and registers the HTTP routes.
func New(opts Options) (*Server, error) {
	if len(opts.Secret) == 0 {
		return nil, ErrNoSecret
	}
	if opts.Execute == nil {
		return nil, errors.New("server: execute func is required")
	}
	matcher, err := trigger.Compile(opts.Definition.Triggers)
	if err != nil {
		return nil, fmt.Errorf("compile triggers: %w", err)
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:       opts,
		matcher:    matcher,
		runs:       newRunStore(maxRecords),
		deliveries: newDeliveries(opts.DedupWindow, time.Now),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.group.SetLimit(opts.MaxConcurrent)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             maxWebhookBody,
		Immutable:             true,
	})
	app.Get("/healthz", s.health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Post("/webhook", s.webhook)

	runs := app.Group("/runs")
	runs.Get("/", s.listRuns)
	runs.Get("/:id", s.getRun)

	s.app = app
	return s, nil
}

// App exposes the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.opts.Logger.Info().Str("listen", addr).Int("max_concurrent", s.opts.MaxConcurrent).Msg("webhook server listening")
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for in-flight runs. Runs still
// going when ctx ends are canceled and recorded as failed.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
	}
	s.cancel()
	return err
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
