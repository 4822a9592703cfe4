// Package server exposes the daemon's live state over HTTP: the most
// recent queue-telemetry samples and the last collated stats
// submission, as plain JSON plus a server-sent-events stream. There is
// no embedded web UI; only the JSON/SSE API surface.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"sync"
	"time"

	fiber "github.com/gofiber/fiber/v3"
	recovermiddleware "github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/libreqos/lqosd/pkg/collator"
	"github.com/libreqos/lqosd/pkg/log"
	"github.com/libreqos/lqosd/pkg/queuetelemetry"
)

const sseBufSize = 4

// snapshot is the JSON document served by /events: the last collated
// submission plus the queue-telemetry records sampled since. /api/stats
// serves the submission without the records, and /api/queues serves
// the records alone.
type snapshot struct {
	Submission *collator.StatsSubmission  `json:"submission,omitempty"`
	Queues     []queuetelemetry.Record    `json:"queues,omitempty"`
	UpdatedAt  string                     `json:"updated_at"`
}

// Server encapsulates the Fiber app, SSE client registry, and the
// latest submission/queue-sample state. Safe for concurrent use.
type Server struct {
	app *fiber.App

	mu         sync.RWMutex
	submission *collator.StatsSubmission
	queues     []queuetelemetry.Record

	ssesMu  sync.Mutex
	clients map[chan []byte]struct{}
}

// New builds a Server with its routes registered.
func New() *Server {
	s := &Server{clients: make(map[chan []byte]struct{})}

	app := fiber.New(fiber.Config{ServerHeader: "lqosd"})
	app.Use(recovermiddleware.New())

	app.Get("/api/stats", s.handleAPIStats)
	app.Get("/api/queues", s.handleAPIQueues)
	app.Get("/events", s.handleSSE)

	s.app = app
	return s
}

// Run serves addr until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		_ = s.app.Shutdown()
	}()
	log.Logger.Info().Str("addr", addr).Msg("status server listening")
	return s.app.Listen(addr)
}

// Enqueue implements collator.Sink: it records the submission as the
// latest one and broadcasts it to connected SSE clients.
func (s *Server) Enqueue(sub collator.StatsSubmission) {
	s.mu.Lock()
	s.submission = &sub
	s.mu.Unlock()
	s.broadcast()
}

// SetQueueSamples replaces the most recently sampled queue-telemetry
// records, called once per queuetelemetry.Sampler tick.
func (s *Server) SetQueueSamples(records []queuetelemetry.Record) {
	s.mu.Lock()
	s.queues = records
	s.mu.Unlock()
	s.broadcast()
}

func (s *Server) snapshotLocked() snapshot {
	return snapshot{
		Submission: s.submission,
		Queues:     s.queues,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

func (s *Server) broadcast() {
	s.mu.RLock()
	snap := s.snapshotLocked()
	s.mu.RUnlock()

	payload, err := json.Marshal(snap)
	if err != nil {
		log.Logger.Error().Err(err).Msg("marshal snapshot for broadcast")
		return
	}
	event := buildSSEEvent(payload)

	s.ssesMu.Lock()
	defer s.ssesMu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

var sseBufPool = sync.Pool{New: func() any { b := make([]byte, 0, 1024); return &b }}

func buildSSEEvent(payload []byte) []byte {
	buf := sseBufPool.Get().(*[]byte)
	*buf = (*buf)[:0]
	*buf = append(*buf, "retry: 2000\ndata: "...)
	*buf = append(*buf, payload...)
	*buf = append(*buf, "\n\n"...)
	out := make([]byte, len(*buf))
	copy(out, *buf)
	sseBufPool.Put(buf)
	return out
}

func (s *Server) handleAPIStats(c fiber.Ctx) error {
	s.mu.RLock()
	sub := s.submission
	s.mu.RUnlock()
	c.Set("Content-Type", "application/json; charset=utf-8")
	b, err := json.Marshal(struct {
		Submission *collator.StatsSubmission `json:"submission,omitempty"`
		UpdatedAt  string                    `json:"updated_at"`
	}{Submission: sub, UpdatedAt: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return err
	}
	return c.Send(b)
}

func (s *Server) handleAPIQueues(c fiber.Ctx) error {
	s.mu.RLock()
	queues := s.queues
	s.mu.RUnlock()
	c.Set("Content-Type", "application/json; charset=utf-8")
	b, err := json.Marshal(queues)
	if err != nil {
		return err
	}
	return c.Send(b)
}

func (s *Server) handleSSE(c fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ch := make(chan []byte, sseBufSize)

	s.ssesMu.Lock()
	s.clients[ch] = struct{}{}
	s.ssesMu.Unlock()

	s.mu.RLock()
	initial := s.snapshotLocked()
	s.mu.RUnlock()

	c.RequestCtx().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			s.ssesMu.Lock()
			delete(s.clients, ch)
			s.ssesMu.Unlock()
		}()

		if initial.Submission != nil || len(initial.Queues) > 0 {
			if payload, err := json.Marshal(initial); err == nil {
				if _, err := w.Write(buildSSEEvent(payload)); err != nil {
					return
				}
				_ = w.Flush()
			}
		}

		for event := range ch {
			if _, err := w.Write(event); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}
