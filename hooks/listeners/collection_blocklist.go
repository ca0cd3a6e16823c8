package listeners

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Ishiihara/chroma/hooks"
)

// ErrCollectionBlocked is returned for compactions of a blocked collection.
var ErrCollectionBlocked = errors.New("collection is blocked from compaction")

// CollectionBlocklistListener vetoes PreCompaction for listed collections.
type CollectionBlocklistListener struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
}

func NewCollectionBlocklistListener(ids ...string) *CollectionBlocklistListener {
	l := &CollectionBlocklistListener{blocked: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		l.blocked[id] = struct{}{}
	}
	return l
}

func (l *CollectionBlocklistListener) Block(id string) {
	l.mu.Lock()
	l.blocked[id] = struct{}{}
	l.mu.Unlock()
}

func (l *CollectionBlocklistListener) Unblock(id string) {
	l.mu.Lock()
	delete(l.blocked, id)
	l.mu.Unlock()
}

func (l *CollectionBlocklistListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	payload, ok := event.Payload().(hooks.PreCompactionPayload)
	if !ok {
		return nil
	}
	l.mu.RLock()
	_, blocked := l.blocked[payload.CollectionID]
	l.mu.RUnlock()
	if blocked {
		return fmt.Errorf("%w: %s", ErrCollectionBlocked, payload.CollectionID)
	}
	return nil
}

// Priority runs the blocklist before other pre-compaction listeners.
func (l *CollectionBlocklistListener) Priority() int { return -100 }
func (l *CollectionBlocklistListener) IsAsync() bool { return false }
