// Package audit provides the append-only security event trail: checksummed
// records, pluggable sinks, and an asynchronous dispatcher. Records are
// never updated or deleted once written; integrity is verifiable by
// recomputing the checksum over the record fields.
package audit
