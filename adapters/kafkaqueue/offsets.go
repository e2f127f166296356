package kafkaqueue

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

// offsetTracker keeps the offsets fetched from each partition in fetch order so that only a contiguous prefix of
// acknowledged messages is ever committed. Committing an offset commits every earlier one on the partition too.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	inFlight []int64
	acked    map[int64]kafka.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int]*partitionOffsets)}
}

func (t *offsetTracker) partition(id int) *partitionOffsets {
	p, ok := t.partitions[id]
	if !ok {
		p = &partitionOffsets{acked: make(map[int64]kafka.Message)}
		t.partitions[id] = p
	}

	return p
}

// track records a fetched message. A message at or before the newest tracked offset means the partition was
// rewound by a rebalance, and everything tracked for it is dropped.
func (t *offsetTracker) track(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.partition(m.Partition)
	if n := len(p.inFlight); n > 0 && m.Offset <= p.inFlight[n-1] {
		p.inFlight = nil
		p.acked = make(map[int64]kafka.Message)
	}

	p.inFlight = append(p.inFlight, m.Offset)
}

// done marks m as acknowledged and returns the newest message that is safe to commit, if any.
func (t *offsetTracker) done(m kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.partition(m.Partition)
	if !p.tracking(m.Offset) {
		return kafka.Message{}, false
	}

	p.acked[m.Offset] = m

	var (
		commit kafka.Message
		ok     bool
	)
	for len(p.inFlight) > 0 {
		head, acked := p.acked[p.inFlight[0]]
		if !acked {
			break
		}

		delete(p.acked, head.Offset)
		p.inFlight = p.inFlight[1:]
		commit, ok = head, true
	}

	return commit, ok
}

func (p *partitionOffsets) tracking(offset int64) bool {
	for _, o := range p.inFlight {
		if o == offset {
			return true
		}
	}

	return false
}
