// Package queue serializes externally-originated actions. The instruction
// task is the single path through which the wireless surface and display taps
// mutate component state, so the cooperative loops never race a transport
// callback.
package queue

import (
	"context"

	"powerbox-go/logging"
)

const defaultDepth = 32

// Instructions is a FIFO of deferred calls executed by a dedicated task.
type Instructions struct {
	ch  chan func()
	log *logging.Logger
}

func New(depth int, log *logging.Logger) *Instructions {
	if depth <= 0 {
		depth = defaultDepth
	}
	return &Instructions{ch: make(chan func(), depth), log: log}
}

// Add enqueues fn. A full queue drops the instruction and logs it; producers
// are transport callbacks and must never block.
func (q *Instructions) Add(fn func()) {
	select {
	case q.ch <- fn:
	default:
		if q.log != nil {
			q.log.Error("instructions queue full, dropping command")
		}
	}
}

// Len returns the number of queued instructions.
func (q *Instructions) Len() int { return len(q.ch) }

// Run executes instructions in FIFO order, each to completion, until the
// context is cancelled. Panics propagate to the supervisor.
func (q *Instructions) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-q.ch:
			fn()
		}
	}
}
