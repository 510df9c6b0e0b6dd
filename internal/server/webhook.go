package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/xid"

	"github.com/bgricker/buildgate/internal/metrics"
	"github.com/bgricker/buildgate/internal/pipeline"
	"github.com/bgricker/buildgate/internal/provider/github"
)

// webhook verifies, deduplicates and matches one delivery, then dispatches
// accepted events. Deliveries that are understood but not acted on get 200
// so GitHub does not retry them.
func (s *Server) webhook(c *fiber.Ctx) error {
	delivery := c.Get(github.HeaderDelivery)
	logger := s.opts.Logger.With().Str("delivery", delivery).Logger()
	body := c.Body()

	if err := github.VerifySignature(s.opts.Secret, body, c.Get(github.HeaderSignature)); err != nil {
		metrics.AddWebhookRejected("signature")
		logger.Warn().Err(err).Msg("webhook rejected")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid signature"})
	}

	name := c.Get(github.HeaderEvent)
	if name == "" {
		metrics.AddWebhookRejected("missing_event")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing " + github.HeaderEvent + " header"})
	}

	if delivery != "" && !s.deliveries.claim(delivery) {
		logger.Info().Msg("duplicate delivery")
		return c.JSON(fiber.Map{"status": "duplicate"})
	}
	// Rejected deliveries stay retryable.
	release := func() {
		if delivery != "" {
			s.deliveries.forget(delivery)
		}
	}

	event, err := github.TranslateWebhook(name, body)
	if errors.Is(err, github.ErrUnhandledEvent) {
		logger.Debug().Err(err).Str("event", name).Msg("delivery ignored")
		return c.JSON(fiber.Map{"status": "ignored", "reason": err.Error()})
	}
	if err != nil {
		release()
		metrics.AddWebhookRejected("payload")
		logger.Warn().Err(err).Str("event", name).Msg("webhook payload rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	decision := s.matcher.Match(event)
	metrics.AddEvent(s.opts.Definition.Name, decision.Accepted)
	if !decision.Accepted {
		logger.Info().Str("branch", event.Branch).Str("reason", decision.Reason).Msg("event ignored")
		return c.JSON(fiber.Map{"status": "ignored", "reason": decision.Reason})
	}

	id := xid.New().String()
	s.runs.put(pipeline.NewRun(id, s.opts.Definition.Name, event), len(s.opts.Definition.Steps))
	if !s.group.TryGo(func() error {
		s.execute(id, event)
		return nil
	}) {
		s.runs.remove(id)
		release()
		metrics.AddWebhookRejected("saturated")
		logger.Warn().Int("max_concurrent", s.opts.MaxConcurrent).Msg("all runners busy")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "all runners busy"})
	}

	logger.Info().Str("run_id", id).Str("branch", event.Branch).Str("commit", event.Commit).Msg("run dispatched")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted", "run_id": id})
}

func (s *Server) execute(id string, event pipeline.Event) {
	run, err := s.opts.Execute(s.ctx, id, event, &storeObserver{store: s.runs})
	if run == nil {
		run = pipeline.NewRun(id, s.opts.Definition.Name, event)
	}
	s.runs.finish(run, err)
	if err != nil {
		s.opts.Logger.Error().Err(err).Str("run_id", id).Msg("run not started")
	}
}

// deliveries remembers delivery IDs for the dedup window. GitHub redelivers
// with the same ID. Entries are kept in arrival order so expiry trims from the
// front.
type deliveries struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	byID   map[string]time.Time
	order  []deliveryEntry
}

type deliveryEntry struct {
	id string
	at time.Time
}

func newDeliveries(window time.Duration, now func() time.Time) *deliveries {
	return &deliveries{window: window, now: now, byID: make(map[string]time.Time)}
}

// claim records id and reports whether it was new within the window.
func (d *deliveries) claim(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expire(now)
	if _, ok := d.byID[id]; ok {
		return false
	}
	d.byID[id] = now
	d.order = append(d.order, deliveryEntry{id: id, at: now})
	return true
}

// forget releases a claimed id so a redelivery is processed again.
func (d *deliveries) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byID, id)
}

func (d *deliveries) expire(now time.Time) {
	n := 0
	for _, e := range d.order {
		if now.Sub(e.at) <= d.window {
			break
		}
		// A forgotten and reclaimed id has a newer timestamp in byID.
		if at, ok := d.byID[e.id]; ok && at.Equal(e.at) {
			delete(d.byID, e.id)
		}
		n++
	}
	d.order = d.order[n:]
}
