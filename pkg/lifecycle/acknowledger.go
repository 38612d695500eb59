package lifecycle

import (
	"context"
	"sync"

	"github.com/flocksync/flocksync/pkg/log"
	"github.com/flocksync/flocksync/pkg/types"
)

// Acknowledger completes a pending lifecycle action on the platform side.
// The real implementation lives with the platform integration; the
// controller only depends on this call.
type Acknowledger interface {
	Complete(ctx context.Context, group, token string, result types.LifecycleAction) error
}

// Ack records one completed acknowledgment.
type Ack struct {
	Group  string
	Token  string
	Result types.LifecycleAction
}

// LogAcknowledger is the standalone implementation: it logs and remembers
// acknowledgments instead of calling out. Also used by tests to assert the
// acknowledged result.
type LogAcknowledger struct {
	mu   sync.Mutex
	acks []Ack
}

// NewLogAcknowledger creates an empty acknowledger.
func NewLogAcknowledger() *LogAcknowledger {
	return &LogAcknowledger{}
}

func (a *LogAcknowledger) Complete(ctx context.Context, group, token string, result types.LifecycleAction) error {
	a.mu.Lock()
	a.acks = append(a.acks, Ack{Group: group, Token: token, Result: result})
	a.mu.Unlock()

	logger := log.WithComponent("lifecycle")
	logger.Info().
		Str("scaling_group", group).
		Str("token", token).
		Str("result", string(result)).
		Msg("lifecycle action completed")
	return nil
}

// Acks returns the acknowledgments recorded so far.
func (a *LogAcknowledger) Acks() []Ack {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Ack(nil), a.acks...)
}
