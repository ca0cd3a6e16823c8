// Package assignment decides which worker owns which collection and feeds
// the compaction scheduler with work for owned collections.
package assignment

import (
	"errors"

	"github.com/Ishiihara/chroma/memberlist"
	"github.com/spaolacci/murmur3"
)

var ErrNoMembers = errors.New("assignment: memberlist is empty")

// Policy maps a key to exactly one member.
type Policy interface {
	Assign(key string, members memberlist.Memberlist) (string, error)
}

// RendezvousPolicy assigns each key to the member with the highest
// murmur3 score of member and key. Adding or removing a member only moves
// the keys that member wins or loses.
type RendezvousPolicy struct{}

func (RendezvousPolicy) Assign(key string, members memberlist.Memberlist) (string, error) {
	if len(members) == 0 {
		return "", ErrNoMembers
	}
	var (
		best      string
		bestScore uint64
	)
	for i, m := range members {
		score := rendezvousScore(m, key)
		if i == 0 || score > bestScore || (score == bestScore && m < best) {
			best, bestScore = m, score
		}
	}
	return best, nil
}

func rendezvousScore(member, key string) uint64 {
	h := murmur3.New64()
	_, _ = h.Write([]byte(member))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}

var _ Policy = RendezvousPolicy{}
