package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/token"
)

// RejectionKind classifies why a structurally valid scan produced no record.
type RejectionKind string

const (
	RejectMalformedToken RejectionKind = "malformed_token"
	RejectExpired        RejectionKind = "expired"
	RejectOutOfRange     RejectionKind = "out_of_range"
	RejectDuplicate      RejectionKind = "duplicate"
)

// Rejection is the typed outcome for a scan that cannot be recorded. It is
// always surfaced to the caller; a rejected scan needs a new human action,
// never an automatic retry.
type Rejection struct {
	Kind RejectionKind
}

func (e *Rejection) Error() string {
	switch e.Kind {
	case RejectMalformedToken:
		return "attendance: token could not be decoded"
	case RejectExpired:
		return "attendance: session has expired"
	case RejectOutOfRange:
		return "attendance: location is outside the session geofence"
	case RejectDuplicate:
		return "attendance: already marked for this session"
	}
	return "attendance: rejected"
}

// Location is a reported device position.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DefaultGraceWindow is how long after session start a submission still
// counts as present rather than late.
const DefaultGraceWindow = 15 * time.Minute

// Service is the sole authority for turning a decoded session descriptor plus
// an acting user into a persisted attendance record.
type Service struct {
	store Store
	grace time.Duration
}

// NewService creates a validator backed by a store.
func NewService(store Store, grace time.Duration) *Service {
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &Service{store: store, grace: grace}
}

// MarkScanned decodes a raw scanned string and records attendance for it.
// Decode failures come back as a RejectMalformedToken rejection.
func (s *Service) MarkScanned(ctx context.Context, scanned, userID string, loc *Location, now time.Time) (Record, error) {
	d, err := token.Decode(scanned)
	if err != nil {
		observeCheckin(string(RejectMalformedToken))
		return Record{}, &Rejection{Kind: RejectMalformedToken}
	}
	return s.MarkAttendance(ctx, d, userID, loc, now)
}

// MarkAttendance validates the descriptor against expiry, geofence and
// duplicate rules and persists exactly one record on success. Rejections
// write nothing.
func (s *Service) MarkAttendance(ctx context.Context, d token.SessionDescriptor, userID string, loc *Location, now time.Time) (Record, error) {
	if userID == "" {
		return Record{}, errors.New("attendance: user id required")
	}

	if d.Expired(now) {
		observeCheckin(string(RejectExpired))
		return Record{}, &Rejection{Kind: RejectExpired}
	}

	if d.Geofence != nil {
		if loc == nil || !d.Geofence.Contains(loc.Latitude, loc.Longitude) {
			observeCheckin(string(RejectOutOfRange))
			return Record{}, &Rejection{Kind: RejectOutOfRange}
		}
	}

	// Friendly pre-check; the unique constraint behind Save is what actually
	// prevents double-recording across tabs and devices.
	if dup, err := s.store.Exists(ctx, userID, d.SessionToken); err != nil {
		return Record{}, err
	} else if dup {
		observeCheckin(string(RejectDuplicate))
		return Record{}, &Rejection{Kind: RejectDuplicate}
	}

	outcome := OutcomePresent
	if now.Sub(d.IssuedAt) > s.grace {
		outcome = OutcomeLate
	}

	rec := Record{
		ID:           uuid.NewString(),
		UserID:       userID,
		ClassID:      d.ClassID,
		ClassName:    d.ClassName,
		SessionToken: d.SessionToken,
		RecordedAt:   now.UTC(),
		Outcome:      outcome,
	}
	saved, err := s.store.Save(ctx, rec)
	if errors.Is(err, ErrDuplicateRecord) {
		observeCheckin(string(RejectDuplicate))
		return Record{}, &Rejection{Kind: RejectDuplicate}
	}
	if err != nil {
		return Record{}, err
	}
	observeCheckin(string(outcome))
	return saved, nil
}

// Stats summarizes one student's attendance history.
type Stats struct {
	Total    int `json:"total"`
	Present  int `json:"present"`
	Late     int `json:"late"`
	Absent   int `json:"absent"`
	Attended int `json:"attended"`
	Rate     int `json:"rate"` // integer percent of sessions attended
}

// StatsForUser computes summary counts over the user's records.
func (s *Service) StatsForUser(ctx context.Context, userID string) (Stats, error) {
	records, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	st.Total = len(records)
	for _, rec := range records {
		switch rec.Outcome {
		case OutcomePresent:
			st.Present++
		case OutcomeLate:
			st.Late++
		case OutcomeAbsent:
			st.Absent++
		}
	}
	st.Attended = st.Present + st.Late
	if st.Total > 0 {
		st.Rate = (st.Attended*100 + st.Total/2) / st.Total
	}
	return st, nil
}

// ListForUser returns the user's records, most recent first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Record, error) {
	return s.store.ListByUser(ctx, userID)
}
