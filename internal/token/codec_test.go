package token

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	issued := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		d    SessionDescriptor
	}{
		{
			name: "no geofence",
			d: SessionDescriptor{
				ClassID:      "CS101",
				ClassName:    "Intro to CS",
				IssuerID:     "T1",
				SessionToken: NewSessionToken(),
				IssuedAt:     issued,
				ExpiresAt:    issued.Add(30 * time.Minute),
			},
		},
		{
			name: "with geofence",
			d: SessionDescriptor{
				ClassID:      "PHY205",
				IssuerID:     "T2",
				SessionToken: NewSessionToken(),
				IssuedAt:     issued,
				ExpiresAt:    issued.Add(10 * time.Minute),
				Geofence:     &Geofence{Latitude: 12.97, Longitude: 77.59, RadiusM: 50},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(Encode(tt.d))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !got.IssuedAt.Equal(tt.d.IssuedAt) || !got.ExpiresAt.Equal(tt.d.ExpiresAt) {
				t.Errorf("timestamps did not survive round trip: got %+v", got)
			}
			got.IssuedAt, got.ExpiresAt = tt.d.IssuedAt, tt.d.ExpiresAt
			if got.ClassID != tt.d.ClassID || got.SessionToken != tt.d.SessionToken ||
				got.IssuerID != tt.d.IssuerID || got.ClassName != tt.d.ClassName {
				t.Errorf("Decode(Encode()) = %+v, want %+v", got, tt.d)
			}
			if tt.d.Geofence != nil && (got.Geofence == nil || *got.Geofence != *tt.d.Geofence) {
				t.Errorf("geofence did not survive round trip: got %+v", got.Geofence)
			}
		})
	}
}

func TestDecodeBareJSON(t *testing.T) {
	d := SessionDescriptor{
		ClassID:      "CS101",
		SessionToken: "abc123",
		IssuedAt:     time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC),
		ExpiresAt:    time.Date(2025, 9, 1, 9, 30, 0, 0, time.UTC),
	}
	raw, err := base64.StdEncoding.DecodeString(Encode(d))
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(string(raw))
	if err != nil {
		t.Fatalf("Decode(bare JSON) error = %v", err)
	}
	if got.SessionToken != d.SessionToken {
		t.Errorf("got token %q, want %q", got.SessionToken, d.SessionToken)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantKind  DecodeErrorKind
		wantField string
	}{
		{name: "empty", in: "", wantKind: Malformed},
		{name: "not base64", in: "!!not-base64!!", wantKind: Malformed},
		{name: "base64 of garbage", in: base64.StdEncoding.EncodeToString([]byte("hello")), wantKind: Malformed},
		{name: "json array", in: "[1,2,3]", wantKind: Malformed},
		{name: "missing classId", in: `{"sessionToken":"t","expiresAt":"2025-09-01T09:30:00Z"}`, wantKind: MissingField, wantField: "classId"},
		{name: "missing sessionToken", in: `{"classId":"c","expiresAt":"2025-09-01T09:30:00Z"}`, wantKind: MissingField, wantField: "sessionToken"},
		{name: "missing expiresAt", in: `{"classId":"c","sessionToken":"t"}`, wantKind: MissingField, wantField: "expiresAt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.in)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Decode(%q) error = %v, want *DecodeError", tt.in, err)
			}
			if de.Kind != tt.wantKind || de.Field != tt.wantField {
				t.Errorf("got kind=%s field=%q, want kind=%s field=%q", de.Kind, de.Field, tt.wantKind, tt.wantField)
			}
		})
	}
}

func TestNewSessionTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok := NewSessionToken()
		if len(tok) != 32 {
			t.Fatalf("token length = %d, want 32 hex chars", len(tok))
		}
		if seen[tok] {
			t.Fatalf("duplicate token after %d draws: %s", i, tok)
		}
		seen[tok] = true
	}
}
