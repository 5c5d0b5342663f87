// Package event dispatches engine lifecycle events to registered
// handlers: merge begin/end, checkpoint completion, availability changes
// and database drops. Handlers run synchronously in registration order;
// one handler's failure is logged and does not stop the others.
package event

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoqueDB/sydney/internal/types"
)

// Type names an engine event.
type Type string

const (
	MergeStarted        Type = "merge.started"
	MergeCompleted      Type = "merge.completed"
	MergeFailed         Type = "merge.failed"
	CheckpointCompleted Type = "checkpoint.completed"
	DatabaseUnavailable Type = "database.unavailable"
	DatabaseDropped     Type = "database.dropped"
)

// Event is one dispatched occurrence.
type Event struct {
	Type     Type
	Time     time.Time
	Database types.DatabaseID
	// Index names the logical index for merge events.
	Index string
	// Err carries the failure for *.failed events.
	Err error
}

// Handler consumes events. Matches reports interest so the bus can skip
// handlers cheaply.
type Handler interface {
	Name() string
	Matches(t Type) bool
	Handle(ctx context.Context, ev Event) error
}

// Bus dispatches events to registered handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	log      *zap.SugaredLogger
}

// NewBus builds an empty bus.
func NewBus(log *zap.SugaredLogger) *Bus {
	return &Bus{log: log}
}

// Register adds a handler. Registration order is dispatch order.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Handlers returns the registered handler names, sorted, for status
// reporting.
func (b *Bus) Handlers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.handlers))
	for _, h := range b.handlers {
		names = append(names, h.Name())
	}
	sort.Strings(names)
	return names
}

// Publish dispatches ev to every interested handler. Handler errors are
// logged, never propagated: the engine's forward progress does not hinge
// on observers.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	for _, h := range handlers {
		if !h.Matches(ev.Type) {
			continue
		}
		if err := h.Handle(ctx, ev); err != nil {
			b.log.Errorw("event handler failed",
				"handler", h.Name(), "event", ev.Type, "error", err)
		}
	}
}

// FuncHandler adapts a function into a Handler for one or more types.
type FuncHandler struct {
	HandlerName string
	Types       []Type
	Fn          func(ctx context.Context, ev Event) error
}

func (f *FuncHandler) Name() string { return f.HandlerName }

func (f *FuncHandler) Matches(t Type) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, x := range f.Types {
		if x == t {
			return true
		}
	}
	return false
}

func (f *FuncHandler) Handle(ctx context.Context, ev Event) error { return f.Fn(ctx, ev) }
