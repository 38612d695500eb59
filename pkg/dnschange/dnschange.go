// Package dnschange turns a record config plus a set of resolved publish
// values into the desired record state, and applies that state against the
// configured DNS backend with a minimal diff. Both the lifecycle event path
// and the reconciliation engine write through here, which is what makes the
// two paths converge on the same end state.
package dnschange

import (
	"context"
	"fmt"
	"sort"

	"github.com/flocksync/flocksync/pkg/log"
	"github.com/flocksync/flocksync/pkg/metrics"
	"github.com/flocksync/flocksync/pkg/provider"
	"github.com/flocksync/flocksync/pkg/types"
)

// Applier applies desired record states through the provider registry.
// WhatIf suppresses every mutation; the computed diff is logged instead.
type Applier struct {
	Registry       *provider.Registry
	WhatIf         bool
	MetricsEnabled bool
}

// Desired computes the record state a config wants published for the given
// value set. Values are deduplicated and sorted so equal sets compare equal.
// An empty set is resolved through the config's empty-record policy.
func Desired(cfg *types.GroupRecordConfig, values []string) types.DesiredRecordState {
	uniq := make(map[string]bool, len(values))
	var set []string
	for _, v := range values {
		if v != "" && !uniq[v] {
			uniq[v] = true
			set = append(set, v)
		}
	}
	sort.Strings(set)

	state := types.DesiredRecordState{
		Zone: cfg.ZoneID,
		Name: cfg.RecordName,
		Type: cfg.RecordType,
		TTL:  cfg.RecordTTL,
	}

	if len(set) == 0 {
		switch cfg.Empty().Mode {
		case types.EmptyKeep:
			state.Unchanged = true
		case types.EmptyDelete:
			state.Tombstone = true
		case types.EmptyFixed:
			state.Values = []string{cfg.Empty().FixedValue}
		}
		return state
	}

	state.Values = set
	return state
}

// Current fetches the record the backend currently publishes for cfg, or
// nil when absent.
func (a *Applier) Current(ctx context.Context, cfg *types.GroupRecordConfig) (*provider.Record, error) {
	p, err := a.Registry.Get(cfg.Provider)
	if err != nil {
		return nil, err
	}
	return p.Get(ctx, cfg.ZoneID, cfg.RecordName, cfg.RecordType)
}

// Apply reconciles the desired state against the backend, performing at
// most one write. Returns whether a mutation was issued.
func (a *Applier) Apply(ctx context.Context, cfg *types.GroupRecordConfig, desired types.DesiredRecordState) (bool, error) {
	logger := log.WithComponent("dnschange").With().
		Str("config", cfg.Key()).
		Logger()

	if desired.Unchanged {
		logger.Debug().Msg("empty value set with KEEP policy, leaving record untouched")
		return false, nil
	}

	p, err := a.Registry.Get(cfg.Provider)
	if err != nil {
		return false, err
	}

	current, err := p.Get(ctx, desired.Zone, desired.Name, desired.Type)
	if err != nil {
		return false, fmt.Errorf("failed to read current record %s/%s: %w", desired.Zone, desired.Name, err)
	}

	if desired.Tombstone {
		if current == nil {
			logger.Debug().Msg("record already absent")
			return false, nil
		}
		if a.WhatIf {
			logger.Info().Strs("current", current.Values).Msg("what-if: would delete record")
			return false, nil
		}
		if err := p.Delete(ctx, desired.Zone, desired.Name, desired.Type); err != nil {
			return false, fmt.Errorf("failed to delete record %s/%s: %w", desired.Zone, desired.Name, err)
		}
		a.count(cfg.Provider, "delete")
		logger.Info().Msg("record deleted")
		return true, nil
	}

	want := provider.Record{
		Zone:     desired.Zone,
		Name:     desired.Name,
		Type:     desired.Type,
		TTL:      desired.TTL,
		Values:   desired.Values,
		Priority: cfg.SRVPriority,
		Weight:   cfg.SRVWeight,
		Port:     cfg.SRVPort,
	}

	if current != nil && current.Equal(&want) {
		logger.Debug().Msg("record already in desired state")
		return false, nil
	}

	if a.WhatIf {
		event := logger.Info().Strs("desired", want.Values)
		if current != nil {
			event = event.Strs("current", current.Values)
		}
		event.Msg("what-if: would upsert record")
		return false, nil
	}

	if err := p.Upsert(ctx, want); err != nil {
		return false, fmt.Errorf("failed to upsert record %s/%s with %v: %w",
			desired.Zone, desired.Name, desired.Values, err)
	}
	a.count(cfg.Provider, "upsert")
	logger.Info().Strs("values", want.Values).Msg("record upserted")
	return true, nil
}

func (a *Applier) count(providerID, op string) {
	if a.MetricsEnabled {
		metrics.ProviderWritesTotal.WithLabelValues(providerID, op).Inc()
	}
}
