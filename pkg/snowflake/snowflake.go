package snowflake

import (
	"errors"
	"sync"
	"time"
)

// Message IDs are 63-bit snowflakes: 41 bits of milliseconds since the epoch,
// 10 bits of node, 12 bits of sequence. The layout is part of the stored
// schema; clustering order in the message tables depends on it.
const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

// Node generates unique, time-ordered message IDs for one service instance.
type Node struct {
	mu   sync.Mutex
	last int64
	node int64
	step int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("node number must be between 0 and 1023")
	}
	return &Node{node: node}, nil
}

// Generate returns the next ID. IDs from one node are strictly increasing; a
// backwards clock step stalls generation rather than reissuing a timestamp.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < n.last {
		now = n.last
	}

	if now == n.last {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			// Sequence exhausted within this millisecond, wait for the next.
			for now <= n.last {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.step = 0
	}

	n.last = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
}
