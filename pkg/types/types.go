package types

import (
	"fmt"
	"strings"
	"time"
)

// MappingMode defines how instance values map onto a DNS record set.
type MappingMode string

const (
	// MappingMultivalue publishes one value per qualifying instance.
	MappingMultivalue MappingMode = "MULTIVALUE"
	// MappingSingleLatest publishes a single value, taken from the most
	// recently launched qualifying instance. Useful for blue/green cutovers.
	MappingSingleLatest MappingMode = "SINGLE_LATEST"
)

// ConsensusMode decides whether a config may mutate DNS when several
// configs track the same scaling group.
type ConsensusMode string

const (
	// ConsensusAll proceeds only if every sibling config is operational.
	ConsensusAll ConsensusMode = "ALL_OPERATIONAL"
	// ConsensusSelf only requires the evaluating config to be operational.
	ConsensusSelf ConsensusMode = "SELF_OPERATIONAL"
	// ConsensusMajority proceeds when at least half of the sibling configs
	// are operational. The threshold is inclusive: an even split proceeds.
	ConsensusMajority ConsensusMode = "MAJORITY_OPERATIONAL"
)

// OperationalStatus is the per (instance, config) outcome of readiness and
// health evaluation. Derived on every pass, never persisted.
type OperationalStatus string

const (
	StatusReady     OperationalStatus = "ready"
	StatusNotReady  OperationalStatus = "not_ready"
	StatusUnhealthy OperationalStatus = "unhealthy"
	StatusTimedOut  OperationalStatus = "timed_out"
)

// HealthProtocol selects the probe transport for a health check.
type HealthProtocol string

const (
	HealthTCP   HealthProtocol = "TCP"
	HealthHTTP  HealthProtocol = "HTTP"
	HealthHTTPS HealthProtocol = "HTTPS"
)

// ReadinessSpec configures tag-based readiness polling for an instance.
type ReadinessSpec struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	TagKey   string        `json:"tag_key" yaml:"tag_key"`
	TagValue string        `json:"tag_value" yaml:"tag_value"`
}

// HealthCheckSpec configures an optional endpoint probe.
type HealthCheckSpec struct {
	Enabled        bool           `json:"enabled" yaml:"enabled"`
	EndpointSource string         `json:"endpoint_source" yaml:"endpoint_source"`
	Protocol       HealthProtocol `json:"protocol" yaml:"protocol"`
	Port           int            `json:"port" yaml:"port"`
	Path           string         `json:"path" yaml:"path"`
	Timeout        time.Duration  `json:"timeout" yaml:"timeout"`
}

// GroupRecordConfig is one DNS-record intent for one scaling group. A group
// may carry any number of these; each is immutable once loaded for a pass.
type GroupRecordConfig struct {
	ScalingGroup string `json:"scaling_group" yaml:"scaling_group"`
	Provider     string `json:"provider" yaml:"provider"`
	ZoneID       string `json:"zone_id" yaml:"zone_id"`
	RecordName   string `json:"record_name" yaml:"record_name"`
	RecordType   string `json:"record_type" yaml:"record_type"`
	RecordTTL    int    `json:"record_ttl" yaml:"record_ttl"`

	// SRV specifics, ignored for other record types.
	SRVPriority int `json:"srv_priority,omitempty" yaml:"srv_priority,omitempty"`
	SRVWeight   int `json:"srv_weight,omitempty" yaml:"srv_weight,omitempty"`
	SRVPort     int `json:"srv_port,omitempty" yaml:"srv_port,omitempty"`

	Mode        MappingMode   `json:"mode" yaml:"mode"`
	EmptyPolicy string        `json:"empty_policy" yaml:"empty_policy"`
	ValueSource string        `json:"value_source" yaml:"value_source"`
	Consensus   ConsensusMode `json:"consensus" yaml:"consensus"`

	// Optional per-config overrides; nil means use the process defaults.
	Readiness   *ReadinessSpec   `json:"readiness,omitempty" yaml:"readiness,omitempty"`
	HealthCheck *HealthCheckSpec `json:"health_check,omitempty" yaml:"health_check,omitempty"`

	// Parsed forms of the mini-language fields, populated by Normalize.
	parsedSource ValueSource
	parsedEmpty  EmptyRecordPolicy
}

// recordsSupportingMultivalue lists record types that may hold one value per
// instance. Other types are coerced to SINGLE_LATEST during Normalize.
var recordsSupportingMultivalue = map[string]bool{
	"A":    true,
	"AAAA": true,
	"TXT":  true,
	"SRV":  true,
}

// Normalize validates the config, fills defaults and parses the value-source
// and empty-policy expressions. It must be called once after decoding; the
// evaluation paths use the parsed forms only.
func (c *GroupRecordConfig) Normalize() error {
	if c.ScalingGroup == "" {
		return fmt.Errorf("scaling group name is required")
	}
	if c.RecordName == "" {
		return fmt.Errorf("record name is required")
	}
	c.RecordType = strings.ToUpper(c.RecordType)
	if c.RecordType == "" {
		c.RecordType = "A"
	}
	if c.RecordTTL == 0 {
		c.RecordTTL = 60
	}
	if c.RecordTTL < 1 || c.RecordTTL > 604800 {
		return fmt.Errorf("invalid record ttl: %d", c.RecordTTL)
	}
	if c.Provider == "" {
		c.Provider = "rfc2136"
	}
	if c.Mode == "" {
		c.Mode = MappingMultivalue
	}
	if c.Mode == MappingMultivalue && !recordsSupportingMultivalue[c.RecordType] {
		c.Mode = MappingSingleLatest
	}
	if c.RecordType == "SRV" && c.SRVPort == 0 {
		return fmt.Errorf("srv_port is required for SRV records")
	}
	switch c.Consensus {
	case "":
		c.Consensus = ConsensusAll
	case ConsensusAll, ConsensusSelf, ConsensusMajority:
	case "HALF_OPERATIONAL": // historical alias, same inclusive threshold
		c.Consensus = ConsensusMajority
	default:
		return fmt.Errorf("unknown consensus mode: %s", c.Consensus)
	}
	if c.ValueSource == "" {
		c.ValueSource = "ip:v4:private"
	}
	src, err := ParseValueSource(c.ValueSource)
	if err != nil {
		return fmt.Errorf("invalid value source %q: %w", c.ValueSource, err)
	}
	c.parsedSource = src
	policy, err := ParseEmptyPolicy(c.EmptyPolicy)
	if err != nil {
		return fmt.Errorf("invalid empty policy %q: %w", c.EmptyPolicy, err)
	}
	c.parsedEmpty = policy
	return nil
}

// Source returns the parsed value source. Normalize must have been called.
func (c *GroupRecordConfig) Source() ValueSource { return c.parsedSource }

// Empty returns the parsed empty-record policy. Normalize must have been called.
func (c *GroupRecordConfig) Empty() EmptyRecordPolicy { return c.parsedEmpty }

// Key identifies a config uniquely within a group: one record intent on one
// zone at one provider.
func (c *GroupRecordConfig) Key() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", c.ScalingGroup, c.Provider, c.ZoneID, c.RecordName, c.RecordType)
}

func (c *GroupRecordConfig) String() string {
	return c.Key()
}

// InstanceView is a point-in-time snapshot of one instance. It is
// reconstructed for every evaluation and never cached across passes.
type InstanceView struct {
	ID             string            `json:"id"`
	ScalingGroup   string            `json:"scaling_group"`
	LifecycleState string            `json:"lifecycle_state"`
	LaunchedAt     time.Time         `json:"launched_at"`
	Tags           map[string]string `json:"tags"`

	PrivateIPv4 string `json:"private_ipv4,omitempty"`
	PublicIPv4  string `json:"public_ipv4,omitempty"`
	PrivateIPv6 string `json:"private_ipv6,omitempty"`
	PublicIPv6  string `json:"public_ipv6,omitempty"`
	PrivateDNS  string `json:"private_dns,omitempty"`
	PublicDNS   string `json:"public_dns,omitempty"`
}

// Tag looks up a tag value by key. With caseSensitive false the key lookup
// is case-folded; values are returned verbatim.
func (v *InstanceView) Tag(key string, caseSensitive bool) (string, bool) {
	if caseSensitive {
		val, ok := v.Tags[key]
		return val, ok
	}
	for k, val := range v.Tags {
		if strings.EqualFold(k, key) {
			return val, true
		}
	}
	return "", false
}

// TriggerReason says why a reconciliation task was enqueued.
type TriggerReason string

const (
	TriggerSchedule TriggerReason = "schedule"
	TriggerEvent    TriggerReason = "event"
	TriggerRetry    TriggerReason = "retry"
)

// ReconciliationTask is the broker's unit of work: recompute DNS state for
// one scaling group.
type ReconciliationTask struct {
	ID         string        `json:"id"`
	Group      string        `json:"group"`
	Reason     TriggerReason `json:"reason"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	Attempt    int           `json:"attempt"`
}

// DesiredRecordState is the computed outcome for one config: the value set
// to publish, or a tombstone when the empty policy says delete.
type DesiredRecordState struct {
	Zone      string
	Name      string
	Type      string
	TTL       int
	Values    []string
	Tombstone bool
	// Unchanged marks a KEEP outcome: leave whatever the provider has.
	Unchanged bool
}
