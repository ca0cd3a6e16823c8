// Package memberlist tracks the set of worker nodes in the cluster.
package memberlist

import (
	"context"
	"slices"
)

// Memberlist is the set of live worker addresses.
type Memberlist []string

// Normalize returns a sorted copy without duplicates.
func (m Memberlist) Normalize() Memberlist {
	out := slices.Clone(m)
	slices.Sort(out)
	return slices.Compact(out)
}

// Equal compares two memberlists as sets.
func (m Memberlist) Equal(other Memberlist) bool {
	return slices.Equal(m.Normalize(), other.Normalize())
}

// Contains reports whether addr is a member.
func (m Memberlist) Contains(addr string) bool {
	return slices.Contains(m, addr)
}

// Source publishes memberlist updates until ctx is done, then closes the
// channel.
type Source interface {
	Watch(ctx context.Context) (<-chan Memberlist, error)
}

// StaticSource always reports the same members.
type StaticSource struct {
	Members Memberlist
}

func (s StaticSource) Watch(ctx context.Context) (<-chan Memberlist, error) {
	ch := make(chan Memberlist, 1)
	ch <- s.Members.Normalize()
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

var _ Source = StaticSource{}
