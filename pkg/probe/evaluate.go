package probe

import (
	"context"

	"github.com/flocksync/flocksync/pkg/log"
	"github.com/flocksync/flocksync/pkg/resolver"
	"github.com/flocksync/flocksync/pkg/types"
)

// Evaluator composes readiness and health into a per (instance, config)
// operational status.
type Evaluator struct {
	Prober  *ReadinessProber
	Checker *HealthChecker
}

// NewEvaluator creates an evaluator with default prober and checker.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		Prober:  NewReadinessProber(),
		Checker: NewHealthChecker(),
	}
}

// EvaluateSnapshot derives the status from a single instance snapshot:
// readiness is read off the snapshot's tags without polling. Used by the
// reconciliation path where each pass takes one batched look at the fleet.
func (e *Evaluator) EvaluateSnapshot(ctx context.Context, instance *types.InstanceView, readiness types.ReadinessSpec, health types.HealthCheckSpec) types.OperationalStatus {
	if !Ready(instance, readiness) {
		return types.StatusNotReady
	}
	return e.checkHealth(ctx, instance, health)
}

// EvaluateAwait polls readiness through fetch until ready or timeout, then
// runs the health check. Used by the lifecycle event path where the handler
// waits for an instance to finish bootstrapping.
func (e *Evaluator) EvaluateAwait(ctx context.Context, fetch InstanceFetch, readiness types.ReadinessSpec, health types.HealthCheckSpec) (types.OperationalStatus, error) {
	if err := e.Prober.Wait(ctx, fetch, readiness); err != nil {
		return types.StatusTimedOut, err
	}
	instance, err := fetch(ctx)
	if err != nil {
		return types.StatusNotReady, err
	}
	return e.checkHealth(ctx, instance, health), nil
}

func (e *Evaluator) checkHealth(ctx context.Context, instance *types.InstanceView, health types.HealthCheckSpec) types.OperationalStatus {
	if !health.Enabled {
		return types.StatusReady
	}
	logger := log.WithComponent("health")
	endpoint, err := resolver.ResolveEndpoint(instance, health)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("instance_id", instance.ID).
			Msg("health endpoint unresolvable")
		return types.StatusUnhealthy
	}
	result := e.Checker.Check(ctx, endpoint, health)
	if !result.Healthy {
		logger.Warn().
			Str("instance_id", instance.ID).
			Str("endpoint", endpoint).
			Str("reason", result.Message).
			Msg("health check failed")
		return types.StatusUnhealthy
	}
	return types.StatusReady
}
