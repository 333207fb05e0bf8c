package backplane

import (
	"fmt"
	"sync"

	"github.com/cuemby/ftb/pkg/types"
)

// sequencer numbers the events of one event space. Its mutex is the single
// serialization point of publishes in that space and is held through
// fan-out, so queue order follows sequence order.
type sequencer struct {
	mu    sync.Mutex
	last  uint64
	lease uint64
}

func (s *sequencer) current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (b *Backplane) sequencer(space string) *sequencer {
	if v, ok := b.sequencers.Load(space); ok {
		return v.(*sequencer)
	}
	v, _ := b.sequencers.LoadOrStore(space, &sequencer{})
	return v.(*sequencer)
}

// next assigns the following sequence number. Callers hold s.mu.
func (b *Backplane) next(space string, s *sequencer) (uint64, error) {
	seq := s.last + 1
	if seq <= s.last {
		return 0, b.invariant("sequence regression in %s: %d after %d", space, seq, s.last)
	}

	if store := b.cfg.store; store != nil && seq > s.lease {
		lease := s.last + b.cfg.leaseSize
		if err := store.SaveSequence(space, lease); err != nil {
			return 0, fmt.Errorf("%w: failed to persist sequence lease for %s: %v", types.ErrInternal, space, err)
		}
		s.lease = lease
	}

	s.last = seq
	return seq, nil
}

// invariant reports a broken internal invariant. Debug builds panic,
// release builds fail the affected operation with types.ErrInternal.
func (b *Backplane) invariant(format string, args ...any) error {
	err := fmt.Errorf("%w: "+format, append([]any{types.ErrInternal}, args...)...)
	b.logger.Error().Err(err).Msg("Invariant violated")
	if debugAssertions {
		panic(err)
	}
	return err
}
