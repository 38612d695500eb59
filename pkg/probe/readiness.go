// Package probe implements the two gating stages run before an instance's
// value may be published: tag-based readiness polling and an optional
// network health check. Both are bounded by an interval and a timeout;
// exceeding the timeout is terminal for the current evaluation pass.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flocksync/flocksync/pkg/log"
	"github.com/flocksync/flocksync/pkg/types"
)

var (
	// ErrReadinessTimeout means the readiness tag did not appear in time.
	ErrReadinessTimeout = errors.New("readiness timeout")
	// ErrHealthCheckFailed means the endpoint probe did not pass.
	ErrHealthCheckFailed = errors.New("health check failed")
)

// InstanceFetch re-reads an instance snapshot. Readiness polls through this
// so each iteration sees fresh tag state.
type InstanceFetch func(ctx context.Context) (*types.InstanceView, error)

// ReadinessProber polls an instance's tags until the expected readiness
// tag/value appears or the timeout elapses.
type ReadinessProber struct {
	// Clock hooks for tests; nil means real time.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewReadinessProber creates a prober using real time.
func NewReadinessProber() *ReadinessProber {
	return &ReadinessProber{}
}

// Ready reports whether the snapshot already carries the readiness tag.
func Ready(instance *types.InstanceView, spec types.ReadinessSpec) bool {
	if !spec.Enabled {
		return true
	}
	value, ok := instance.Tag(spec.TagKey, true)
	return ok && value == spec.TagValue
}

// Wait blocks until the instance becomes ready or the spec's timeout
// elapses, re-fetching the instance at the spec's interval. Returns
// ErrReadinessTimeout on expiry.
func (p *ReadinessProber) Wait(ctx context.Context, fetch InstanceFetch, spec types.ReadinessSpec) error {
	if !spec.Enabled {
		return nil
	}

	logger := log.WithComponent("readiness")
	deadline := time.Now().Add(spec.Timeout)
	interval := spec.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		instance, err := fetch(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch instance for readiness poll: %w", err)
		}
		if Ready(instance, spec) {
			logger.Debug().
				Str("instance_id", instance.ID).
				Str("tag_key", spec.TagKey).
				Msg("instance ready")
			return nil
		}
		if time.Now().Add(interval).After(deadline) {
			return fmt.Errorf("%w: tag %s=%s did not appear within %s on instance %s",
				ErrReadinessTimeout, spec.TagKey, spec.TagValue, spec.Timeout, instance.ID)
		}
		if err := p.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func (p *ReadinessProber) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
