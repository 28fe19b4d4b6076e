package audit

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const defaultRecentCap = 256

// Trail seals records (ID, timestamp, checksum) and hands them to the
// dispatcher. It keeps a bounded in-memory window of recent records so
// admin surfaces can re-verify integrity without a storage round trip.
//
// Recording never returns an error: an audit failure is logged locally
// and must not flip an authentication or authorization decision.
type Trail struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	recent  []Record
	next    int
	filled  bool
}

// NewTrail builds a trail over the given sink. A nil logger falls back to
// zap.NewNop; cfg.Enabled=false yields a trail that only keeps the
// in-memory window.
func NewTrail(cfg Config, sink Sink, logger *zap.Logger) *Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trail{
		dispatcher: NewDispatcher(cfg, sink),
		logger:     logger,
		now:        time.Now,
		entropy:    ulid.Monotonic(rand.Reader, 0),
		recent:     make([]Record, defaultRecentCap),
	}
}

// Record seals rec and emits it. The sealed record is returned so callers
// can reference the assigned ID.
func (t *Trail) Record(ctx context.Context, rec Record) Record {
	if t == nil {
		return rec
	}

	ts := t.now().UTC()
	rec.Timestamp = ts

	t.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(ts), t.entropy)
	if err == nil {
		rec.ID = id.String()
	}
	t.mu.Unlock()
	if err != nil {
		// ULID generation only fails when entropy is exhausted; fall back
		// to a timestamp-only identifier rather than dropping the event.
		rec.ID = ulid.MustNew(ulid.Timestamp(ts), zeroReader{}).String()
		t.logger.Warn("audit id entropy failure", zap.Error(err))
	}

	rec.Checksum = ComputeChecksum(rec)

	t.mu.Lock()
	t.recent[t.next] = rec
	t.next = (t.next + 1) % len(t.recent)
	if t.next == 0 {
		t.filled = true
	}
	t.mu.Unlock()

	t.dispatcher.Emit(ctx, rec)
	return rec
}

// Recent returns up to limit of the newest records, newest first. Each
// record's checksum is re-verified on the way out; a failed verification
// is logged and the record is still returned so tampering is visible.
func (t *Trail) Recent(limit int) []Record {
	if t == nil || limit <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	size := t.next
	if t.filled {
		size = len(t.recent)
	}
	if limit > size {
		limit = size
	}

	out := make([]Record, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (t.next - 1 - i + len(t.recent)) % len(t.recent)
		rec := t.recent[idx]
		if !rec.VerifyChecksum() {
			t.logger.Error("audit record failed integrity check",
				zap.String("record_id", rec.ID),
				zap.String("event_type", rec.EventType))
		}
		out = append(out, rec)
	}
	return out
}

// Close drains the dispatcher.
func (t *Trail) Close() {
	if t == nil {
		return
	}
	t.dispatcher.Close()
}

// Dropped reports how many records the dispatcher discarded under
// backpressure.
func (t *Trail) Dropped() uint64 {
	if t == nil {
		return 0
	}
	return t.dispatcher.Dropped()
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
