package logging

import "log/slog"

const redacted = "[REDACTED]"

// RedactedToken holds a credential that must never reach a log line or a
// serialized document. Every formatting path prints [REDACTED]; only Value
// returns the credential.
type RedactedToken struct {
	value string
}

// NewRedactedToken wraps value.
func NewRedactedToken(value string) RedactedToken {
	return RedactedToken{value: value}
}

// Value returns the credential for use in an outgoing request header.
func (t RedactedToken) Value() string {
	return t.value
}

// IsEmpty reports whether no credential is held.
func (t RedactedToken) IsEmpty() bool {
	return t.value == ""
}

func (t RedactedToken) String() string {
	if t.value == "" {
		return ""
	}
	return redacted
}

func (t RedactedToken) GoString() string {
	return "logging.RedactedToken{" + redacted + "}"
}

// LogValue implements slog.LogValuer.
func (t RedactedToken) LogValue() slog.Value {
	return slog.StringValue(t.String())
}

func (t RedactedToken) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}
