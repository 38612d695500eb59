package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupRecordConfigNormalizeDefaults(t *testing.T) {
	cfg := GroupRecordConfig{
		ScalingGroup: "web",
		ZoneID:       "example.org.",
		RecordName:   "web.example.org.",
	}
	require.NoError(t, cfg.Normalize())

	assert.Equal(t, "A", cfg.RecordType)
	assert.Equal(t, 60, cfg.RecordTTL)
	assert.Equal(t, "rfc2136", cfg.Provider)
	assert.Equal(t, MappingMultivalue, cfg.Mode)
	assert.Equal(t, ConsensusAll, cfg.Consensus)
	assert.Equal(t, "ip:v4:private", cfg.ValueSource)
	assert.Equal(t, SourceIP, cfg.Source().Kind)
	assert.Equal(t, EmptyKeep, cfg.Empty().Mode)
}

func TestGroupRecordConfigNormalize(t *testing.T) {
	tests := []struct {
		name    string
		cfg     GroupRecordConfig
		wantErr bool
		check   func(t *testing.T, cfg GroupRecordConfig)
	}{
		{
			name:    "missing group",
			cfg:     GroupRecordConfig{RecordName: "a.example.org."},
			wantErr: true,
		},
		{
			name:    "missing record name",
			cfg:     GroupRecordConfig{ScalingGroup: "web"},
			wantErr: true,
		},
		{
			name: "ttl too large",
			cfg: GroupRecordConfig{
				ScalingGroup: "web", RecordName: "a.example.org.", RecordTTL: 604801,
			},
			wantErr: true,
		},
		{
			name: "negative ttl",
			cfg: GroupRecordConfig{
				ScalingGroup: "web", RecordName: "a.example.org.", RecordTTL: -5,
			},
			wantErr: true,
		},
		{
			name: "record type upcased",
			cfg: GroupRecordConfig{
				ScalingGroup: "web", RecordName: "a.example.org.", RecordType: "aaaa",
			},
			check: func(t *testing.T, cfg GroupRecordConfig) {
				assert.Equal(t, "AAAA", cfg.RecordType)
				assert.Equal(t, MappingMultivalue, cfg.Mode)
			},
		},
		{
			name: "cname cannot be multivalue",
			cfg: GroupRecordConfig{
				ScalingGroup: "web", RecordName: "a.example.org.",
				RecordType: "CNAME", Mode: MappingMultivalue,
				ValueSource: "hostname:public",
			},
			check: func(t *testing.T, cfg GroupRecordConfig) {
				assert.Equal(t, MappingSingleLatest, cfg.Mode)
			},
		},
		{
			name: "srv requires port",
			cfg: GroupRecordConfig{
				ScalingGroup: "web", RecordName: "_svc._tcp.example.org.", RecordType: "SRV",
			},
			wantErr: true,
		},
		{
			name: "srv with port",
			cfg: GroupRecordConfig{
				ScalingGroup: "web", RecordName: "_svc._tcp.example.org.",
				RecordType: "SRV", SRVPort: 8080,
			},
			check: func(t *testing.T, cfg GroupRecordConfig) {
				assert.Equal(t, MappingMultivalue, cfg.Mode)
			},
		},
		{
			name: "half operational alias",
			cfg: GroupRecordConfig{
				ScalingGroup: "web", RecordName: "a.example.org.",
				Consensus: "HALF_OPERATIONAL",
			},
			check: func(t *testing.T, cfg GroupRecordConfig) {
				assert.Equal(t, ConsensusMajority, cfg.Consensus)
			},
		},
		{
			name: "unknown consensus mode",
			cfg: GroupRecordConfig{
				ScalingGroup: "web", RecordName: "a.example.org.",
				Consensus: "MOST_OPERATIONAL",
			},
			wantErr: true,
		},
		{
			name: "invalid value source",
			cfg: GroupRecordConfig{
				ScalingGroup: "web", RecordName: "a.example.org.",
				ValueSource: "ip:v5",
			},
			wantErr: true,
		},
		{
			name: "invalid empty policy",
			cfg: GroupRecordConfig{
				ScalingGroup: "web", RecordName: "a.example.org.",
				EmptyPolicy: "FIXED",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, tt.cfg)
			}
		})
	}
}

func TestGroupRecordConfigKey(t *testing.T) {
	cfg := GroupRecordConfig{
		ScalingGroup: "web",
		Provider:     "rfc2136",
		ZoneID:       "example.org.",
		RecordName:   "web.example.org.",
		RecordType:   "A",
	}
	assert.Equal(t, "web/rfc2136/example.org./web.example.org./A", cfg.Key())
}

func TestInstanceViewTag(t *testing.T) {
	view := InstanceView{
		ID:   "i-1",
		Tags: map[string]string{"App:Ready": "True", "env": "prod"},
	}

	value, ok := view.Tag("App:Ready", true)
	assert.True(t, ok)
	assert.Equal(t, "True", value)

	_, ok = view.Tag("app:ready", true)
	assert.False(t, ok)

	value, ok = view.Tag("APP:READY", false)
	assert.True(t, ok)
	assert.Equal(t, "True", value)
}

func TestLifecycleEventActionable(t *testing.T) {
	launching := LifecycleEvent{Transition: TransitionLaunching, Time: time.Now()}
	draining := LifecycleEvent{Transition: TransitionDraining}
	unrelated := LifecycleEvent{Transition: TransitionUnrelated}

	assert.True(t, launching.Actionable())
	assert.True(t, draining.Actionable())
	assert.False(t, unrelated.Actionable())
}
