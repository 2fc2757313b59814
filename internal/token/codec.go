package token

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// DecodeErrorKind classifies why a scanned string failed to decode.
type DecodeErrorKind string

const (
	// Malformed means the string is not valid base64/JSON at all.
	Malformed DecodeErrorKind = "malformed"
	// MissingField means the JSON parsed but a required field is absent.
	MissingField DecodeErrorKind = "missing_field"
)

// DecodeError reports a token string that could not be turned into a
// SessionDescriptor. Field is set for MissingField errors.
type DecodeError struct {
	Kind  DecodeErrorKind
	Field string
}

func (e *DecodeError) Error() string {
	if e.Kind == MissingField {
		return "token: missing required field " + e.Field
	}
	return "token: malformed encoding"
}

// Encode serializes a descriptor to the transport form carried inside the QR
// image: JSON wrapped in standard base64. Deterministic for identical input.
func Encode(d SessionDescriptor) string {
	raw, err := json.Marshal(d)
	if err != nil {
		// All descriptor fields are plain JSON-marshalable types.
		panic("token: marshal descriptor: " + err.Error())
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// Decode parses a scanned string back into a SessionDescriptor. Input is
// attacker-controlled; every failure comes back as a *DecodeError, never a
// panic. Bare JSON is accepted alongside the base64-wrapped form so manually
// entered tokens work too.
func Decode(s string) (SessionDescriptor, error) {
	s = strings.TrimSpace(s)
	raw := []byte(s)
	if !strings.HasPrefix(s, "{") {
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return SessionDescriptor{}, &DecodeError{Kind: Malformed}
		}
		raw = decoded
	}

	var d SessionDescriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return SessionDescriptor{}, &DecodeError{Kind: Malformed}
	}

	switch {
	case d.ClassID == "":
		return SessionDescriptor{}, &DecodeError{Kind: MissingField, Field: "classId"}
	case d.SessionToken == "":
		return SessionDescriptor{}, &DecodeError{Kind: MissingField, Field: "sessionToken"}
	case d.ExpiresAt.IsZero():
		return SessionDescriptor{}, &DecodeError{Kind: MissingField, Field: "expiresAt"}
	}
	return d, nil
}
