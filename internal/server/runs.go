package server

import (
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/bgricker/buildgate/internal/output"
	"github.com/bgricker/buildgate/internal/pipeline"
	"github.com/bgricker/buildgate/internal/report"
)

// maxRecords bounds how many runs the server remembers.
const maxRecords = 256

type runRecord struct {
	run   *pipeline.Run
	steps int
	err   string
}

// runStore keeps snapshots of recent runs. Readers always get a clone so the
// executing goroutine never shares a Run with a request handler.
type runStore struct {
	mu    sync.RWMutex
	limit int
	order []string
	byID  map[string]*runRecord
}

func newRunStore(limit int) *runStore {
	return &runStore{limit: limit, byID: make(map[string]*runRecord)}
}

func (s *runStore) put(run *pipeline.Run, steps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[run.ID]; !ok {
		s.order = append(s.order, run.ID)
	}
	s.byID[run.ID] = &runRecord{run: run.Clone(), steps: steps}
	for len(s.order) > s.limit {
		delete(s.byID, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *runStore) update(run *pipeline.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.byID[run.ID]; ok {
		rec.run = run.Clone()
	}
}

func (s *runStore) finish(run *pipeline.Run, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[run.ID]
	if !ok {
		return
	}
	rec.run = run.Clone()
	if err != nil {
		rec.err = err.Error()
	}
}

func (s *runStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	for i, known := range s.order {
		if known == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *runStore) get(id string) (output.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return output.Report{}, false
	}
	return rec.report(), true
}

// recent returns summaries newest first.
func (s *runStore) recent() []report.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]report.Summary, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.byID[s.order[i]]
		out = append(out, report.Summarize(rec.run, rec.steps))
	}
	return out
}

func (r *runRecord) report() output.Report {
	summary := report.Summarize(r.run, r.steps)
	return output.Report{Run: r.run.Clone(), Summary: &summary, Error: r.err}
}

// storeObserver mirrors executor progress into the store.
type storeObserver struct {
	store *runStore
	live  *pipeline.Run
}

func (o *storeObserver) RunStarted(run *pipeline.Run, _ []pipeline.Step) {
	o.live = run
	o.store.update(run)
}

func (o *storeObserver) StepStarted(int, pipeline.Step) {
	if o.live != nil {
		o.store.update(o.live)
	}
}

func (o *storeObserver) StepFinished(int, pipeline.StepResult) {
	if o.live != nil {
		o.store.update(o.live)
	}
}

func (o *storeObserver) RunFinished(run *pipeline.Run) {
	o.store.update(run)
}

func (s *Server) getRun(c *fiber.Ctx) error {
	rep, ok := s.runs.get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "run not found"})
	}
	return c.JSON(rep)
}

func (s *Server) listRuns(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"runs": s.runs.recent()})
}
