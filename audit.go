package authcore

import "github.com/oncosaferx/authcore/internal/audit"

// Public aliases for the audit types callers need when supplying a sink
// or reading records back out of the trail.
type (
	AuditRecord = audit.Record
	AuditSink   = audit.Sink
	AuditConfig = audit.Config
	Sensitivity = audit.Sensitivity
	Outcome     = audit.Outcome
)

const (
	SensitivityLow      = audit.SensitivityLow
	SensitivityMedium   = audit.SensitivityMedium
	SensitivityHigh     = audit.SensitivityHigh
	SensitivityCritical = audit.SensitivityCritical

	OutcomeSuccess = audit.OutcomeSuccess
	OutcomeFailure = audit.OutcomeFailure
	OutcomeDenied  = audit.OutcomeDenied
)

// NewJSONAuditSink writes one JSON object per audit record to w.
var NewJSONAuditSink = audit.NewJSONWriterSink

// VerifyAuditChecksum recomputes a stored record's checksum and compares
// it to the stored value.
func VerifyAuditChecksum(rec AuditRecord) bool {
	return rec.VerifyChecksum()
}
