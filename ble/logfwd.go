package ble

import (
	"context"
	"sync"
	"time"

	"powerbox-go/logging"
	"powerbox-go/x/shmring"
)

const (
	logRingSize  = 1024
	logChunkSize = 20
	logPacing    = 10 * time.Millisecond
)

// logForwarder mirrors log lines to the log characteristic. The logger side
// only touches the ring; the drain task owns the transport.
type logForwarder struct {
	transport Transport
	ring      *shmring.Ring

	mu       sync.Mutex
	attached *logging.Logger
}

func newLogForwarder(t Transport) *logForwarder {
	return &logForwarder{transport: t, ring: shmring.New(logRingSize)}
}

// WriteLog implements logging.Sink. Best effort: drop on a full ring.
func (f *logForwarder) WriteLog(line []byte) {
	_ = f.ring.TryWriteFrom(line)
}

// setEnabled attaches to the logger (non-nil) or detaches (nil).
func (f *logForwarder) setEnabled(log *logging.Logger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if log != nil {
		if f.attached == nil {
			log.Attach(f)
			f.attached = log
		}
		return
	}
	if f.attached != nil {
		f.attached.Detach(f)
		f.attached = nil
	}
}

// run drains the ring into MTU-sized notifications with pacing.
func (f *logForwarder) run(ctx context.Context) {
	var chunk [logChunkSize]byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.ring.Readable():
		}
		for {
			n := f.ring.TryReadInto(chunk[:])
			if n == 0 {
				break
			}
			f.transport.Notify(LogUUID, chunk[:n])
			time.Sleep(logPacing)
		}
	}
}
