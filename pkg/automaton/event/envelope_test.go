package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeDefaults(t *testing.T) {
	before := time.Now()
	env := NewEnvelope("order.placed", map[string]any{"order_id": "o-1"})

	require.NotEmpty(t, env.ID())
	assert.Equal(t, "order.placed", env.Name())
	assert.Equal(t, 1, env.Attempt())
	assert.Equal(t, env.ID(), env.CorrelationID(), "root envelope correlates to itself")
	assert.Empty(t, env.CausationID())
	assert.False(t, env.OccurredAt().Before(before))
}

func TestNewEnvelopeOptions(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env := NewEnvelope("order.placed", nil,
		WithID("evt-1"),
		WithCorrelationID("corr-1"),
		WithCausationID("cause-1"),
		WithOccurredAt(at),
	)

	assert.Equal(t, "evt-1", env.ID())
	assert.Equal(t, "corr-1", env.CorrelationID())
	assert.Equal(t, "cause-1", env.CausationID())
	assert.Equal(t, at, env.OccurredAt())
}

func TestNewFromParent(t *testing.T) {
	parent := NewEnvelope("order.placed", nil)
	child := NewFromParent(parent, "inventory.reserved", nil)

	assert.Equal(t, parent.CorrelationID(), child.CorrelationID())
	assert.Equal(t, parent.ID(), child.CausationID())
	assert.NotEqual(t, parent.ID(), child.ID())
}

func TestEnvelopeWithAttemptDoesNotMutate(t *testing.T) {
	env := NewEnvelope("order.placed", "payload")
	clone := env.withAttempt(3)

	assert.Equal(t, 1, env.Attempt(), "original unchanged")
	assert.Equal(t, 3, clone.Attempt())
	assert.Equal(t, env.ID(), clone.ID())
	assert.Equal(t, env.Payload(), clone.Payload())
}

func TestChainMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return HandlerFunc(func(ctx context.Context, env *Envelope) error {
				order = append(order, name)
				return next.Handle(ctx, env)
			})
		}
	}

	h := ChainMiddleware(
		HandlerFunc(func(ctx context.Context, env *Envelope) error {
			order = append(order, "handler")
			return nil
		}),
		mw("outer"), mw("inner"),
	)

	require.NoError(t, h.Handle(context.Background(), NewEnvelope("e", nil)))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
