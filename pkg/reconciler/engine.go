// Package reconciler is the authoritative, self-healing path: it recomputes
// the full desired DNS state for a scaling group from live membership and
// applies the minimal diff. Running it twice with no membership change
// produces zero provider writes.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/flocksync/flocksync/pkg/consensus"
	"github.com/flocksync/flocksync/pkg/dnschange"
	"github.com/flocksync/flocksync/pkg/instances"
	"github.com/flocksync/flocksync/pkg/lifecycle"
	"github.com/flocksync/flocksync/pkg/log"
	"github.com/flocksync/flocksync/pkg/metrics"
	"github.com/flocksync/flocksync/pkg/probe"
	"github.com/flocksync/flocksync/pkg/resolver"
	"github.com/flocksync/flocksync/pkg/types"
)

// ErrNoConfigs is returned when a task targets a group with no record
// configuration.
var ErrNoConfigs = errors.New("no record configs for group")

// Engine recomputes and applies DNS state for one group per task. It is
// stateless; everything is reconstructed from the config store and live
// instance queries on every run.
type Engine struct {
	Configs   lifecycle.ConfigLoader
	Source    instances.Source
	Evaluator *probe.Evaluator
	Applier   *dnschange.Applier

	ReadinessDefaults types.ReadinessSpec
	ValidStates       []string
	MetricsEnabled    bool
}

// Reconcile runs one full pass for the task's group.
func (e *Engine) Reconcile(ctx context.Context, task *types.ReconciliationTask) error {
	logger := log.WithComponent("reconciler").With().
		Str("scaling_group", task.Group).
		Str("task_id", task.ID).
		Str("reason", string(task.Reason)).
		Logger()

	timer := metrics.NewTimer()
	defer func() {
		if e.MetricsEnabled {
			timer.ObserveDuration(metrics.ReconciliationDuration)
		}
	}()

	all, err := e.Configs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configs: %w", err)
	}
	var configs []types.GroupRecordConfig
	for _, c := range all {
		if c.ScalingGroup == task.Group {
			configs = append(configs, c)
		}
	}
	if len(configs) == 0 {
		return fmt.Errorf("%w: %s", ErrNoConfigs, task.Group)
	}

	members, err := e.Source.DescribeGroup(ctx, task.Group, e.ValidStates)
	if err != nil {
		return fmt.Errorf("failed to enumerate group instances: %w", err)
	}
	logger.Info().Int("instances", len(members)).Int("configs", len(configs)).Msg("reconciling")

	// Operational status per (config, instance). A config is operational
	// for consensus purposes when at least one of its instances is ready,
	// or when the group is legitimately empty.
	perConfig := make([][]types.OperationalStatus, len(configs))
	configStatus := make([]types.OperationalStatus, len(configs))
	for i := range configs {
		perConfig[i] = e.evaluateAll(ctx, members, &configs[i])
		configStatus[i] = summarize(perConfig[i])
	}

	var errs []error
	changed := false
	for i := range configs {
		cfg := &configs[i]
		if !consensus.Proceed(cfg.Consensus, configStatus[i], configStatus) {
			logger.Info().
				Str("config", cfg.Key()).
				Str("status", string(configStatus[i])).
				Str("mode", string(cfg.Consensus)).
				Msg("consensus not reached, skipping config")
			continue
		}
		wrote, err := e.reconcileConfig(ctx, cfg, members, perConfig[i])
		if err != nil {
			logger.Error().Err(err).Str("config", cfg.Key()).Msg("failed to reconcile config")
			errs = append(errs, fmt.Errorf("config %s: %w", cfg.Key(), err))
			continue
		}
		changed = changed || wrote
	}

	if e.MetricsEnabled {
		outcome := "converged"
		switch {
		case len(errs) > 0:
			outcome = "failed"
		case changed:
			outcome = "changed"
		}
		metrics.ReconciliationsTotal.WithLabelValues(outcome).Inc()
	}
	return errors.Join(errs...)
}

// evaluateAll derives the operational status of every member under one
// config. Readiness is taken from the snapshot's tags; only the health
// probe goes on the wire.
func (e *Engine) evaluateAll(ctx context.Context, members []types.InstanceView, cfg *types.GroupRecordConfig) []types.OperationalStatus {
	readiness := e.ReadinessDefaults
	if cfg.Readiness != nil {
		readiness = *cfg.Readiness
	}
	var health types.HealthCheckSpec
	if cfg.HealthCheck != nil {
		health = *cfg.HealthCheck
	}

	statuses := make([]types.OperationalStatus, len(members))
	for i := range members {
		timer := metrics.NewTimer()
		statuses[i] = e.Evaluator.EvaluateSnapshot(ctx, &members[i], readiness, health)
		if e.MetricsEnabled {
			timer.ObserveDuration(metrics.ProbeDuration.WithLabelValues("reconcile"))
		}
	}
	return statuses
}

// summarize collapses per-instance statuses into the config-level status
// used by consensus. An empty group is still operational: scale-to-zero is
// a valid end state the empty policy handles.
func summarize(statuses []types.OperationalStatus) types.OperationalStatus {
	if len(statuses) == 0 {
		return types.StatusReady
	}
	worst := types.StatusNotReady
	for _, s := range statuses {
		if s == types.StatusReady {
			return types.StatusReady
		}
		if s == types.StatusUnhealthy {
			worst = types.StatusUnhealthy
		}
	}
	return worst
}

func (e *Engine) reconcileConfig(ctx context.Context, cfg *types.GroupRecordConfig, members []types.InstanceView, statuses []types.OperationalStatus) (bool, error) {
	var values []string

	switch cfg.Mode {
	case types.MappingSingleLatest:
		var latest *types.InstanceView
		for i := range members {
			if statuses[i] != types.StatusReady {
				continue
			}
			if latest == nil || members[i].LaunchedAt.After(latest.LaunchedAt) {
				latest = &members[i]
			}
		}
		if latest != nil {
			value, err := resolver.Resolve(latest, cfg.Source())
			if err != nil {
				return false, err
			}
			values = []string{value}
		}
	default: // MULTIVALUE
		for i := range members {
			if statuses[i] != types.StatusReady {
				continue
			}
			value, err := resolver.Resolve(&members[i], cfg.Source())
			if err != nil {
				// An instance without the requested attribute contributes
				// nothing; the rest of the fleet still publishes.
				logger := log.WithComponent("reconciler")
				logger.Warn().
					Err(err).
					Str("config", cfg.Key()).
					Str("instance_id", members[i].ID).
					Msg("skipping unresolvable instance")
				continue
			}
			values = append(values, value)
		}
	}

	return e.Applier.Apply(ctx, cfg, dnschange.Desired(cfg, values))
}
