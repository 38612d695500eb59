// Package provider abstracts the DNS backends the controller writes
// through. The variant set is closed and selected by configuration: an
// RFC2136 dynamic-update backend for authoritative zones, and an in-memory
// backend for standalone use and tests.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrThrottled marks a rate-limit rejection from the backend. It is
	// retryable; the retry wrapper backs off before surfacing it.
	ErrThrottled = errors.New("provider throttled")
	// ErrRejected marks a write the backend refused. Fatal for this write,
	// not retried.
	ErrRejected = errors.New("provider rejected change")
	// ErrUnknownProvider is returned by the registry for an unconfigured id.
	ErrUnknownProvider = errors.New("unknown dns provider")
)

// Record is one DNS record set: a name/type pair and its full value set.
type Record struct {
	Zone   string
	Name   string
	Type   string
	TTL    int
	Values []string

	// SRV specifics, zero for other record types.
	Priority int
	Weight   int
	Port     int
}

// Equal reports whether two records carry the same published state. Value
// order is not significant.
func (r *Record) Equal(other *Record) bool {
	if other == nil {
		return false
	}
	if r.Name != other.Name || r.Type != other.Type || r.TTL != other.TTL {
		return false
	}
	if r.Type == "SRV" {
		if r.Priority != other.Priority || r.Weight != other.Weight || r.Port != other.Port {
			return false
		}
	}
	if len(r.Values) != len(other.Values) {
		return false
	}
	a := append([]string(nil), r.Values...)
	b := append([]string(nil), other.Values...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (r *Record) String() string {
	return fmt.Sprintf("%s/%s %s ttl=%d %v", r.Zone, r.Name, r.Type, r.TTL, r.Values)
}

// Provider is the idempotent DNS mutation contract. Re-applying an
// already-applied state is a no-op, not an error.
type Provider interface {
	// Get returns the current record set, or (nil, nil) when absent.
	Get(ctx context.Context, zone, name, rtype string) (*Record, error)

	// Upsert publishes the record's full value set, replacing whatever the
	// backend currently holds for the name/type pair.
	Upsert(ctx context.Context, record Record) error

	// Delete removes the record set. Deleting an absent record is a no-op.
	Delete(ctx context.Context, zone, name, rtype string) error
}

// Registry maps provider identifiers to configured backends.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a backend under an identifier.
func (r *Registry) Register(id string, p Provider) {
	r.providers[id] = p
}

// Get resolves a backend by identifier.
func (r *Registry) Get(id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}
