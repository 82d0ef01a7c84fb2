package graphql

import (
	"context"
	"time"

	"github.com/getmockd/mockd-chaos/pkg/chaos"
)

// ChaosHooks runs the resilience pipeline around GraphQL operations and
// applies scaled latency to individual field resolvers.
type ChaosHooks struct {
	pipeline *chaos.Pipeline
}

// NewChaosHooks creates hooks backed by p.
func NewChaosHooks(p *chaos.Pipeline) *ChaosHooks {
	return &ChaosHooks{pipeline: p}
}

// Enabled reports whether the backing pipeline is active.
func (h *ChaosHooks) Enabled() bool {
	return h != nil && h.pipeline.Enabled()
}

// BeforeOperation gates one operation. The returned guards must be released
// by the caller.
func (h *ChaosHooks) BeforeOperation(ctx context.Context, clientKey string, op Operation, bodySize int) (*chaos.Guards, error) {
	return h.pipeline.Before(ctx, chaos.RequestInfo{
		ClientKey: clientKey,
		RouteKey:  op.RouteKey(),
		BodySize:  bodySize,
	})
}

// AfterOperation records the operation outcome and decides truncation. Use
// OutcomeForResponse to classify a response.
func (h *ChaosHooks) AfterOperation(ctx context.Context, g *chaos.Guards, outcome chaos.Outcome, bodySize int) chaos.ResponseDecision {
	return h.pipeline.After(ctx, g, chaos.ResponseInfo{
		Outcome:  outcome,
		BodySize: bodySize,
	})
}

// BeforeField delays a field resolver by the configured fraction of the
// top-level latency. It returns ctx.Err() if ctx ends while waiting.
func (h *ChaosHooks) BeforeField(ctx context.Context) (time.Duration, error) {
	if !h.Enabled() {
		return 0, nil
	}
	return h.pipeline.Latency().InjectScaled(ctx, h.pipeline.FieldLatencyFraction())
}

// FieldHook adapts BeforeField for an Executor.
func (h *ChaosHooks) FieldHook() FieldHook {
	return func(ctx context.Context, _ string) error {
		_, err := h.BeforeField(ctx)
		return err
	}
}
