// Package lifecycle handles individual instance lifecycle transitions: it
// gates the instance on readiness and health, resolves its publish value,
// applies the single-instance DNS change per record config, and acknowledges
// the pending lifecycle action so the scaling group can finish the
// transition. One config's failure never blocks its siblings, and the
// acknowledgment is sent regardless of DNS outcome.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/flocksync/flocksync/pkg/consensus"
	"github.com/flocksync/flocksync/pkg/dnschange"
	"github.com/flocksync/flocksync/pkg/instances"
	"github.com/flocksync/flocksync/pkg/log"
	"github.com/flocksync/flocksync/pkg/metrics"
	"github.com/flocksync/flocksync/pkg/probe"
	"github.com/flocksync/flocksync/pkg/resolver"
	"github.com/flocksync/flocksync/pkg/types"
)

// ConfigLoader returns the current config set. The handler re-reads it on
// every event; nothing is cached across invocations.
type ConfigLoader func(ctx context.Context) ([]types.GroupRecordConfig, error)

// Handler processes one lifecycle transition at a time. It carries no
// mutable state between events.
type Handler struct {
	Configs      ConfigLoader
	Source       instances.Source
	Evaluator    *probe.Evaluator
	Applier      *dnschange.Applier
	Acknowledger Acknowledger

	// ReadinessDefaults applies when a config has no readiness override.
	ReadinessDefaults types.ReadinessSpec
	// ValidStates filters group members for SINGLE_LATEST recomputation.
	ValidStates []string
	// DefaultResult is acknowledged after processing (CONTINUE/ABANDON).
	DefaultResult types.LifecycleAction
	// WhatIf forces a CONTINUE acknowledgment and suppresses mutations.
	WhatIf bool

	MetricsEnabled bool
}

// Handle processes one lifecycle event. Per-config failures are isolated
// and aggregated into the returned error after the lifecycle action has
// been acknowledged.
func (h *Handler) Handle(ctx context.Context, event *types.LifecycleEvent) error {
	logger := log.WithComponent("lifecycle").With().
		Str("scaling_group", event.ScalingGroup).
		Str("instance_id", event.InstanceID).
		Str("transition", string(event.Transition)).
		Logger()

	if !event.Actionable() {
		logger.Warn().Msg("unrelated lifecycle transition, ignoring")
		return nil
	}

	all, err := h.Configs(ctx)
	if err != nil {
		// Without configuration there is nothing to mutate; still release
		// the lifecycle action so the group is not stalled.
		logger.Error().Err(err).Msg("failed to load configs")
		return errors.Join(err, h.acknowledge(ctx, event, types.ActionContinue, logger))
	}
	var configs []types.GroupRecordConfig
	for _, c := range all {
		if c.ScalingGroup == event.ScalingGroup {
			configs = append(configs, c)
		}
	}
	if len(configs) == 0 {
		logger.Warn().Msg("no record configs for group, acknowledging without changes")
		return h.acknowledge(ctx, event, types.ActionContinue, logger)
	}

	instance := h.describe(ctx, event, logger)

	// First pass: operational status per config. Sibling statuses feed the
	// consensus evaluation below, so all of them are computed up front.
	statuses := make([]types.OperationalStatus, len(configs))
	var evalErrs []error
	for i := range configs {
		statuses[i] = h.evaluate(ctx, event, instance, &configs[i], &evalErrs)
	}

	// Second pass: consensus, then the single-instance mutation.
	var applyErrs []error
	for i := range configs {
		cfg := &configs[i]
		if !consensus.Proceed(cfg.Consensus, statuses[i], statuses) {
			logger.Info().
				Str("config", cfg.Key()).
				Str("status", string(statuses[i])).
				Str("mode", string(cfg.Consensus)).
				Msg("consensus not reached, skipping mutation")
			continue
		}
		if err := h.mutate(ctx, event, instance, cfg); err != nil {
			logger.Error().Err(err).Str("config", cfg.Key()).Msg("failed to apply change")
			applyErrs = append(applyErrs, fmt.Errorf("config %s: %w", cfg.Key(), err))
		}
	}

	result := h.DefaultResult
	if result == "" || h.WhatIf {
		result = types.ActionContinue
	}
	ackErr := h.acknowledge(ctx, event, result, logger)

	return errors.Join(errors.Join(evalErrs...), errors.Join(applyErrs...), ackErr)
}

// describe fetches the instance snapshot. A draining instance may already
// be gone from discovery; removal then proceeds from the event alone.
func (h *Handler) describe(ctx context.Context, event *types.LifecycleEvent, logger zerolog.Logger) *types.InstanceView {
	instance, err := h.Source.Describe(ctx, event.InstanceID)
	if err != nil {
		if event.Transition == types.TransitionDraining {
			logger.Debug().Msg("draining instance no longer visible")
			return nil
		}
		logger.Error().Err(err).Msg("failed to describe instance")
		return nil
	}
	return instance
}

func (h *Handler) evaluate(ctx context.Context, event *types.LifecycleEvent, instance *types.InstanceView, cfg *types.GroupRecordConfig, evalErrs *[]error) types.OperationalStatus {
	// A leaving instance is not gated: the value comes out regardless of
	// its readiness, and the config itself counts as operational.
	if event.Transition == types.TransitionDraining {
		return types.StatusReady
	}
	if instance == nil {
		return types.StatusNotReady
	}

	readiness := h.ReadinessDefaults
	if cfg.Readiness != nil {
		readiness = *cfg.Readiness
	}
	var health types.HealthCheckSpec
	if cfg.HealthCheck != nil {
		health = *cfg.HealthCheck
	}

	timer := metrics.NewTimer()
	fetch := func(ctx context.Context) (*types.InstanceView, error) {
		return h.Source.Describe(ctx, event.InstanceID)
	}
	status, err := h.Evaluator.EvaluateAwait(ctx, fetch, readiness, health)
	if h.MetricsEnabled {
		timer.ObserveDuration(metrics.ProbeDuration.WithLabelValues("lifecycle"))
	}
	if err != nil {
		*evalErrs = append(*evalErrs, fmt.Errorf("config %s: %w", cfg.Key(), err))
	}
	return status
}

// mutate applies the single-instance change for one config.
func (h *Handler) mutate(ctx context.Context, event *types.LifecycleEvent, instance *types.InstanceView, cfg *types.GroupRecordConfig) error {
	switch cfg.Mode {
	case types.MappingMultivalue:
		return h.mutateMultivalue(ctx, event, instance, cfg)
	case types.MappingSingleLatest:
		return h.mutateSingleLatest(ctx, event, cfg)
	}
	return fmt.Errorf("unknown mapping mode %s", cfg.Mode)
}

// mutateMultivalue adds (join) or removes (leave) this instance's value in
// the record's value set.
func (h *Handler) mutateMultivalue(ctx context.Context, event *types.LifecycleEvent, instance *types.InstanceView, cfg *types.GroupRecordConfig) error {
	current, err := h.Applier.Current(ctx, cfg)
	if err != nil {
		return err
	}
	var values []string
	if current != nil {
		values = append(values, current.Values...)
	}

	switch event.Transition {
	case types.TransitionLaunching:
		if instance == nil {
			return fmt.Errorf("instance %s unavailable for value resolution", event.InstanceID)
		}
		value, err := resolver.Resolve(instance, cfg.Source())
		if err != nil {
			return err
		}
		values = append(values, value)
	case types.TransitionDraining:
		values, err = h.removeInstanceValue(ctx, values, instance, event, cfg)
		if err != nil {
			return err
		}
	}

	_, err = h.Applier.Apply(ctx, cfg, dnschange.Desired(cfg, values))
	return err
}

// removeInstanceValue strips the leaving instance's value from the set.
// When the instance view is gone, the set is recomputed from the remaining
// group members instead, which drops the departed value by construction.
func (h *Handler) removeInstanceValue(ctx context.Context, values []string, instance *types.InstanceView, event *types.LifecycleEvent, cfg *types.GroupRecordConfig) ([]string, error) {
	if instance != nil {
		value, err := resolver.Resolve(instance, cfg.Source())
		if err == nil {
			out := values[:0]
			for _, v := range values {
				if v != value {
					out = append(out, v)
				}
			}
			return out, nil
		}
		// Fall through to recomputation; the attribute may already be
		// detached from the instance.
	}

	members, err := h.Source.DescribeGroup(ctx, event.ScalingGroup, h.ValidStates)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	var out []string
	for i := range members {
		if members[i].ID == event.InstanceID {
			continue
		}
		value, err := resolver.Resolve(&members[i], cfg.Source())
		if err != nil {
			continue
		}
		out = append(out, value)
	}
	return out, nil
}

// mutateSingleLatest republishes the value of the most recently launched
// qualifying instance, or applies the empty policy when none qualify.
func (h *Handler) mutateSingleLatest(ctx context.Context, event *types.LifecycleEvent, cfg *types.GroupRecordConfig) error {
	members, err := h.Source.DescribeGroup(ctx, event.ScalingGroup, h.ValidStates)
	if err != nil {
		return fmt.Errorf("failed to list group members: %w", err)
	}

	readiness := h.ReadinessDefaults
	if cfg.Readiness != nil {
		readiness = *cfg.Readiness
	}
	var health types.HealthCheckSpec
	if cfg.HealthCheck != nil {
		health = *cfg.HealthCheck
	}

	var latest *types.InstanceView
	for i := range members {
		member := &members[i]
		if event.Transition == types.TransitionDraining && member.ID == event.InstanceID {
			continue
		}
		if h.Evaluator.EvaluateSnapshot(ctx, member, readiness, health) != types.StatusReady {
			continue
		}
		if latest == nil || member.LaunchedAt.After(latest.LaunchedAt) {
			latest = member
		}
	}

	var values []string
	if latest != nil {
		value, err := resolver.Resolve(latest, cfg.Source())
		if err != nil {
			return err
		}
		values = []string{value}
	}

	_, err = h.Applier.Apply(ctx, cfg, dnschange.Desired(cfg, values))
	return err
}

func (h *Handler) acknowledge(ctx context.Context, event *types.LifecycleEvent, result types.LifecycleAction, logger zerolog.Logger) error {
	if h.MetricsEnabled {
		metrics.LifecycleEventsTotal.WithLabelValues(string(event.Transition), string(result)).Inc()
	}
	if err := h.Acknowledger.Complete(ctx, event.ScalingGroup, event.Token, result); err != nil {
		logger.Error().Err(err).Str("result", string(result)).Msg("failed to acknowledge lifecycle action")
		return fmt.Errorf("failed to acknowledge lifecycle action: %w", err)
	}
	logger.Info().Str("result", string(result)).Msg("lifecycle action acknowledged")
	return nil
}
