package dnschange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flocksync/flocksync/pkg/provider"
	"github.com/flocksync/flocksync/pkg/types"
)

func testConfig(t *testing.T, emptyPolicy string) *types.GroupRecordConfig {
	t.Helper()
	cfg := &types.GroupRecordConfig{
		ScalingGroup: "web",
		Provider:     "memory",
		ZoneID:       "example.org.",
		RecordName:   "web.example.org.",
		RecordType:   "A",
		RecordTTL:    60,
		EmptyPolicy:  emptyPolicy,
	}
	require.NoError(t, cfg.Normalize())
	return cfg
}

func testApplier(whatIf bool) (*Applier, *provider.MemoryProvider) {
	m := provider.NewMemoryProvider()
	registry := provider.NewRegistry()
	registry.Register("memory", m)
	return &Applier{Registry: registry, WhatIf: whatIf}, m
}

func TestDesiredDeduplicatesAndSorts(t *testing.T) {
	cfg := testConfig(t, "")
	state := Desired(cfg, []string{"10.0.0.2", "10.0.0.1", "10.0.0.2", ""})

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, state.Values)
	assert.False(t, state.Tombstone)
	assert.False(t, state.Unchanged)
	assert.Equal(t, 60, state.TTL)
}

func TestDesiredEmptyPolicies(t *testing.T) {
	keep := Desired(testConfig(t, "KEEP"), nil)
	assert.True(t, keep.Unchanged)

	del := Desired(testConfig(t, "DELETE"), nil)
	assert.True(t, del.Tombstone)

	fixed := Desired(testConfig(t, "FIXED:192.0.2.1"), nil)
	assert.Equal(t, []string{"192.0.2.1"}, fixed.Values)
}

func TestApplyUpsertAndConverge(t *testing.T) {
	applier, backend := testApplier(false)
	cfg := testConfig(t, "")
	ctx := context.Background()

	wrote, err := applier.Apply(ctx, cfg, Desired(cfg, []string{"10.0.0.1"}))
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, 1, backend.Writes())

	// Same desired state again: no write.
	wrote, err = applier.Apply(ctx, cfg, Desired(cfg, []string{"10.0.0.1"}))
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, 1, backend.Writes())

	current, err := applier.Current(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, []string{"10.0.0.1"}, current.Values)
}

func TestApplyTombstone(t *testing.T) {
	applier, backend := testApplier(false)
	cfg := testConfig(t, "DELETE")
	ctx := context.Background()

	// Deleting an absent record issues no write.
	wrote, err := applier.Apply(ctx, cfg, Desired(cfg, nil))
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, 0, backend.Writes())

	_, err = applier.Apply(ctx, cfg, Desired(cfg, []string{"10.0.0.1"}))
	require.NoError(t, err)

	wrote, err = applier.Apply(ctx, cfg, Desired(cfg, nil))
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, 0, backend.Len())
}

func TestApplyKeepLeavesRecord(t *testing.T) {
	applier, backend := testApplier(false)
	cfg := testConfig(t, "KEEP")
	ctx := context.Background()

	_, err := applier.Apply(ctx, cfg, Desired(cfg, []string{"10.0.0.1"}))
	require.NoError(t, err)

	wrote, err := applier.Apply(ctx, cfg, Desired(cfg, nil))
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, 1, backend.Len())
}

func TestApplyWhatIfNeverMutates(t *testing.T) {
	applier, backend := testApplier(true)
	cfg := testConfig(t, "DELETE")
	ctx := context.Background()

	wrote, err := applier.Apply(ctx, cfg, Desired(cfg, []string{"10.0.0.1"}))
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, 0, backend.Writes())

	// Seed state directly, then confirm the tombstone is also suppressed.
	require.NoError(t, backend.Upsert(ctx, provider.Record{
		Zone: cfg.ZoneID, Name: cfg.RecordName, Type: "A", TTL: 60, Values: []string{"10.0.0.9"},
	}))
	wrote, err = applier.Apply(ctx, cfg, Desired(cfg, nil))
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, 1, backend.Len())
}

func TestApplyUnknownProvider(t *testing.T) {
	applier, _ := testApplier(false)
	cfg := testConfig(t, "")
	cfg.Provider = "route53"

	_, err := applier.Apply(context.Background(), cfg, Desired(cfg, []string{"10.0.0.1"}))
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestApplySRVFieldsCarried(t *testing.T) {
	applier, backend := testApplier(false)
	cfg := &types.GroupRecordConfig{
		ScalingGroup: "web",
		Provider:     "memory",
		ZoneID:       "example.org.",
		RecordName:   "_svc._tcp.example.org.",
		RecordType:   "SRV",
		RecordTTL:    60,
		SRVPriority:  10,
		SRVWeight:    5,
		SRVPort:      8080,
	}
	require.NoError(t, cfg.Normalize())

	_, err := applier.Apply(context.Background(), cfg, Desired(cfg, []string{"host1.example.org."}))
	require.NoError(t, err)

	current, err := backend.Get(context.Background(), cfg.ZoneID, cfg.RecordName, "SRV")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, 10, current.Priority)
	assert.Equal(t, 8080, current.Port)
}

func TestApplySRVFieldChangeRewrites(t *testing.T) {
	applier, backend := testApplier(false)
	cfg := &types.GroupRecordConfig{
		ScalingGroup: "web",
		Provider:     "memory",
		ZoneID:       "example.org.",
		RecordName:   "_svc._tcp.example.org.",
		RecordType:   "SRV",
		RecordTTL:    60,
		SRVPriority:  10,
		SRVWeight:    5,
		SRVPort:      8080,
	}
	require.NoError(t, cfg.Normalize())
	ctx := context.Background()
	targets := []string{"host1.example.org."}

	wrote, err := applier.Apply(ctx, cfg, Desired(cfg, targets))
	require.NoError(t, err)
	require.True(t, wrote)

	// Same targets, new priority: the record must be rewritten.
	cfg.SRVPriority = 20
	wrote, err = applier.Apply(ctx, cfg, Desired(cfg, targets))
	require.NoError(t, err)
	assert.True(t, wrote)

	current, err := backend.Get(ctx, cfg.ZoneID, cfg.RecordName, "SRV")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, 20, current.Priority)

	// Converged again after the rewrite.
	wrote, err = applier.Apply(ctx, cfg, Desired(cfg, targets))
	require.NoError(t, err)
	assert.False(t, wrote)
}
