// Package store holds the durable key/value config store backing the
// controller: the declared group-record configuration set and the optional
// externally-managed overrides, each under a fixed key.
package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flocksync/flocksync/pkg/types"
)

// ErrNotFound is returned when no config exists under the requested key.
var ErrNotFound = errors.New("config not found")

// Store is the config store contract. Blobs are opaque to the store; the
// loader below defines their shape.
type Store interface {
	GetConfig(ctx context.Context, key string) ([]byte, error)
	PutConfig(ctx context.Context, key string, blob []byte) error
	Close() error
}

// record is the stored wire form: the config list is JSON-encoded and then
// base64-wrapped, matching the external tooling that seeds the table.
type record struct {
	ID     string `json:"id"`
	Config string `json:"config"`
}

// EncodeConfigs wraps a config list into the stored record format.
func EncodeConfigs(key string, configs []types.GroupRecordConfig) ([]byte, error) {
	inner, err := json.Marshal(configs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode configs: %w", err)
	}
	return json.Marshal(record{
		ID:     key,
		Config: base64.StdEncoding.EncodeToString(inner),
	})
}

// DecodeConfigs unwraps a stored record into a normalized config list.
func DecodeConfigs(blob []byte) ([]types.GroupRecordConfig, error) {
	var rec record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode config record: %w", err)
	}
	inner, err := base64.StdEncoding.DecodeString(rec.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config payload: %w", err)
	}
	var configs []types.GroupRecordConfig
	if err := json.Unmarshal(inner, &configs); err != nil {
		return nil, fmt.Errorf("failed to decode config list: %w", err)
	}
	for i := range configs {
		if err := configs[i].Normalize(); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", configs[i].Key(), err)
		}
	}
	return configs, nil
}

// LoadGroupConfigs reads the declared config set and layers the
// externally-managed overrides on top. An override with the same config key
// replaces the declared entry; new entries are appended. A missing override
// record is not an error.
func LoadGroupConfigs(ctx context.Context, s Store, declaredKey, overrideKey string) ([]types.GroupRecordConfig, error) {
	blob, err := s.GetConfig(ctx, declaredKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load declared configs: %w", err)
	}
	declared, err := DecodeConfigs(blob)
	if err != nil {
		return nil, err
	}

	if overrideKey == "" {
		return declared, nil
	}
	blob, err = s.GetConfig(ctx, overrideKey)
	if errors.Is(err, ErrNotFound) {
		return declared, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load override configs: %w", err)
	}
	overrides, err := DecodeConfigs(blob)
	if err != nil {
		return nil, err
	}

	merged := make([]types.GroupRecordConfig, 0, len(declared)+len(overrides))
	replaced := make(map[string]bool, len(overrides))
	for _, o := range overrides {
		replaced[o.Key()] = true
	}
	for _, d := range declared {
		if !replaced[d.Key()] {
			merged = append(merged, d)
		}
	}
	merged = append(merged, overrides...)
	return merged, nil
}

// ConfigsForGroup filters a config list down to one scaling group.
func ConfigsForGroup(configs []types.GroupRecordConfig, group string) []types.GroupRecordConfig {
	var out []types.GroupRecordConfig
	for _, c := range configs {
		if c.ScalingGroup == group {
			out = append(out, c)
		}
	}
	return out
}

// Groups returns the distinct scaling group names in a config list,
// preserving first-seen order.
func Groups(configs []types.GroupRecordConfig) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range configs {
		if !seen[c.ScalingGroup] {
			seen[c.ScalingGroup] = true
			out = append(out, c.ScalingGroup)
		}
	}
	return out
}
