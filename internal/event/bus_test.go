package event

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPublishDispatchesToMatchingHandlers(t *testing.T) {
	b := NewBus(zap.NewNop().Sugar())
	var got []Type
	b.Register(&FuncHandler{
		HandlerName: "merge-only",
		Types:       []Type{MergeStarted, MergeCompleted},
		Fn: func(_ context.Context, ev Event) error {
			got = append(got, ev.Type)
			return nil
		},
	})
	b.Register(&FuncHandler{
		HandlerName: "checkpoint-only",
		Types:       []Type{CheckpointCompleted},
		Fn: func(_ context.Context, ev Event) error {
			got = append(got, "ckpt:"+ev.Type)
			return nil
		},
	})

	ctx := context.Background()
	b.Publish(ctx, Event{Type: MergeStarted, Index: "t1.fts"})
	b.Publish(ctx, Event{Type: CheckpointCompleted})
	b.Publish(ctx, Event{Type: DatabaseDropped})

	assert.Equal(t, []Type{MergeStarted, "ckpt:" + CheckpointCompleted}, got)
}

func TestHandlerErrorDoesNotStopOthers(t *testing.T) {
	b := NewBus(zap.NewNop().Sugar())
	ran := false
	b.Register(&FuncHandler{
		HandlerName: "failing",
		Fn:          func(context.Context, Event) error { return errors.New("boom") },
	})
	b.Register(&FuncHandler{
		HandlerName: "after",
		Fn: func(context.Context, Event) error {
			ran = true
			return nil
		},
	})
	b.Publish(context.Background(), Event{Type: MergeFailed})
	assert.True(t, ran)
}

func TestHandlersListsSortedNames(t *testing.T) {
	b := NewBus(zap.NewNop().Sugar())
	b.Register(&FuncHandler{HandlerName: "zeta", Fn: func(context.Context, Event) error { return nil }})
	b.Register(&FuncHandler{HandlerName: "alpha", Fn: func(context.Context, Event) error { return nil }})
	assert.Equal(t, []string{"alpha", "zeta"}, b.Handlers())
}
