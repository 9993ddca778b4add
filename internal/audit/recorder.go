// Package audit ships security events to the analytics and search sinks.
package audit

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"otp-auth-service/internal/models"
	"otp-auth-service/internal/util"
)

type Recorder interface {
	Record(ctx context.Context, event models.SecurityEvent) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Record(context.Context, models.SecurityEvent) error { return nil }

// Multi fans an event out to every sink concurrently. All sinks are attempted
// even when one fails; the first error is returned.
type Multi struct {
	sinks []namedRecorder
}

type namedRecorder struct {
	name string
	rec  Recorder
}

func NewMulti() *Multi {
	return &Multi{}
}

// Add registers a sink under name, used in failure logs.
func (m *Multi) Add(name string, rec Recorder) *Multi {
	m.sinks = append(m.sinks, namedRecorder{name: name, rec: rec})
	return m
}

func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Record(ctx context.Context, event models.SecurityEvent) error {
	var g errgroup.Group
	for _, s := range m.sinks {
		s := s
		g.Go(func() error {
			if err := s.rec.Record(ctx, event); err != nil {
				util.Warn("Security event sink failed",
					zap.String("sink", s.name),
					zap.String("event_type", event.EventType),
					zap.Error(err))
				return fmt.Errorf("%s: %w", s.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Memory keeps events in a slice. Used by tests and as the development sink.
type Memory struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, event models.SecurityEvent) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Events() []models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SecurityEvent(nil), m.events...)
}

// Types lists recorded event types in order.
func (m *Memory) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.EventType)
	}
	return out
}
