// Package instances is the boundary to the platform that actually runs the
// scaling groups. The controller only ever reads point-in-time snapshots;
// provisioning and scaling decisions live on the far side of this interface.
package instances

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/flocksync/flocksync/pkg/types"
)

// ErrInstanceNotFound is returned when an instance id cannot be resolved.
var ErrInstanceNotFound = errors.New("instance not found")

// Source enumerates and describes instances. Implementations must return
// fresh snapshots on every call; views are never cached across passes.
type Source interface {
	// DescribeGroup lists the group's instances whose lifecycle state is in
	// validStates. An empty validStates list means no filtering.
	DescribeGroup(ctx context.Context, group string, validStates []string) ([]types.InstanceView, error)

	// Describe returns a single instance snapshot.
	Describe(ctx context.Context, id string) (*types.InstanceView, error)
}

// MemorySource is a mutable fixture implementation for standalone mode and
// tests.
type MemorySource struct {
	mu        sync.RWMutex
	instances map[string]types.InstanceView
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{instances: make(map[string]types.InstanceView)}
}

// SetInstance adds or replaces an instance snapshot.
func (s *MemorySource) SetInstance(view types.InstanceView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[view.ID] = view
}

// RemoveInstance drops an instance, as if it had terminated.
func (s *MemorySource) RemoveInstance(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, id)
}

// SetTag updates one tag on an existing instance.
func (s *MemorySource) SetTag(id, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	view, ok := s.instances[id]
	if !ok {
		return
	}
	if view.Tags == nil {
		view.Tags = make(map[string]string)
	} else {
		tags := make(map[string]string, len(view.Tags))
		for k, v := range view.Tags {
			tags[k] = v
		}
		view.Tags = tags
	}
	view.Tags[key] = value
	s.instances[id] = view
}

func (s *MemorySource) DescribeGroup(ctx context.Context, group string, validStates []string) ([]types.InstanceView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	valid := make(map[string]bool, len(validStates))
	for _, state := range validStates {
		valid[state] = true
	}

	var out []types.InstanceView
	for _, view := range s.instances {
		if view.ScalingGroup != group {
			continue
		}
		if len(valid) > 0 && !valid[view.LifecycleState] {
			continue
		}
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemorySource) Describe(ctx context.Context, id string) (*types.InstanceView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	out := view
	return &out, nil
}
