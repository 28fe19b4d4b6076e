package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// Sensitivity classifies how security-relevant an event is. Routine
// verification outcomes are HIGH; enable/disable, lockouts, and
// break-glass actions are CRITICAL.
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "LOW"
	SensitivityMedium   Sensitivity = "MEDIUM"
	SensitivityHigh     Sensitivity = "HIGH"
	SensitivityCritical Sensitivity = "CRITICAL"
)

// Outcome records the result of the audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Record is the canonical audit event model. The checksum covers every
// other field and is computed once when the record enters the trail.
type Record struct {
	ID           string      `json:"id"`
	Timestamp    time.Time   `json:"timestamp"`
	EventType    string      `json:"event_type"`
	UserID       string      `json:"user_id,omitempty"`
	Action       string      `json:"action,omitempty"`
	ResourceType string      `json:"resource_type,omitempty"`
	ResourceID   string      `json:"resource_id,omitempty"`
	IPAddress    string      `json:"ip_address,omitempty"`
	UserAgent    string      `json:"user_agent,omitempty"`
	Sensitivity  Sensitivity `json:"sensitivity"`
	Outcome      Outcome     `json:"outcome"`
	Checksum     string      `json:"checksum"`
}

// canonical serializes every field except the checksum in a fixed order
// with an unambiguous separator, so the digest is stable across encoders.
func (r Record) canonical() []byte {
	var b strings.Builder
	for _, field := range []string{
		r.ID,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.EventType,
		r.UserID,
		r.Action,
		r.ResourceType,
		r.ResourceID,
		r.IPAddress,
		r.UserAgent,
		string(r.Sensitivity),
		string(r.Outcome),
	} {
		b.WriteString(field)
		b.WriteByte(0x1f)
	}
	return []byte(b.String())
}

// ComputeChecksum returns the hex SHA-256 digest over the record's
// canonical encoding, excluding the checksum field itself.
func ComputeChecksum(r Record) string {
	sum := sha256.Sum256(r.canonical())
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum recomputes the digest and compares it with the stored one.
func (r Record) VerifyChecksum() bool {
	return r.Checksum != "" && r.Checksum == ComputeChecksum(r)
}

// Sink receives sealed audit records.
type Sink interface {
	Emit(ctx context.Context, record Record)
}

// NoOpSink drops audit records.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Record) {}

// ChannelSink writes audit records into a buffered channel.
type ChannelSink struct {
	records chan Record
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		records: make(chan Record, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, record Record) {
	select {
	case s.records <- record:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Records() <-chan Record {
	return s.records
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, record Record) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
