package infra

import (
	"fmt"
	"sync"
	"time"
)

// Message ids are 63-bit snowflakes: milliseconds since forumEpoch, a 10 bit
// node id and a 12 bit per-millisecond sequence. They sort in creation order,
// which the repositories rely on as the createdAt tiebreak.
const (
	forumEpoch     = int64(1672531200000) // 2023-01-01T00:00:00Z
	nodeIDBits     = uint(10)
	sequenceBits   = uint(12)
	maxNodeID      = int64(-1) ^ (int64(-1) << nodeIDBits)
	sequenceMask   = int64(-1) ^ (int64(-1) << sequenceBits)
	nodeIDShift    = sequenceBits
	timestampShift = sequenceBits + nodeIDBits
)

type IDGenerator struct {
	mu       sync.Mutex
	nodeID   int64
	sequence int64
	lastMS   int64
	now      func() time.Time
}

func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, fmt.Errorf("node id %d out of range 0..%d", nodeID, maxNodeID)
	}
	return &IDGenerator{nodeID: nodeID, now: time.Now}, nil
}

func (g *IDGenerator) Generate() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	// A clock stepping backwards must not reissue ids.
	if ms < g.lastMS {
		ms = g.lastMS
	}

	if ms == g.lastMS {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			ms++
		}
	} else {
		g.sequence = 0
	}
	g.lastMS = ms

	return ((ms - forumEpoch) << timestampShift) | (g.nodeID << nodeIDShift) | g.sequence
}

// Timestamp recovers the creation time encoded in an id.
func (g *IDGenerator) Timestamp(id int64) time.Time {
	return time.UnixMilli((id >> timestampShift) + forumEpoch).UTC()
}
