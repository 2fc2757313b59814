package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/token"
)

func testDescriptor(issued time.Time, window time.Duration) token.SessionDescriptor {
	return token.SessionDescriptor{
		ClassID:      "CS101",
		ClassName:    "Intro to CS",
		IssuerID:     "T1",
		SessionToken: token.NewSessionToken(),
		IssuedAt:     issued,
		ExpiresAt:    issued.Add(window),
	}
}

func rejectionKind(t *testing.T, err error) RejectionKind {
	t.Helper()
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	return rej.Kind
}

func TestMarkAttendanceExpiry(t *testing.T) {
	t0 := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)
	d := testDescriptor(t0, 30*time.Minute)

	tests := []struct {
		name    string
		now     time.Time
		wantErr RejectionKind
		want    Outcome
	}{
		{name: "just after start", now: t0.Add(time.Second), want: OutcomePresent},
		{name: "exactly at expiry", now: t0.Add(30 * time.Minute), want: OutcomeLate},
		{name: "one second past expiry", now: t0.Add(30*time.Minute + time.Second), wantErr: RejectExpired},
		{name: "hours late", now: t0.Add(5 * time.Hour), wantErr: RejectExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(NewMemoryStore(), 0)
			rec, err := svc.MarkAttendance(context.Background(), d, "S1", nil, tt.now)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, rejectionKind(t, err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Outcome)
		})
	}
}

func TestMarkAttendanceGraceBoundary(t *testing.T) {
	t0 := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)
	d := testDescriptor(t0, time.Hour)
	svc := NewService(NewMemoryStore(), 15*time.Minute)

	rec, err := svc.MarkAttendance(context.Background(), d, "S1", nil, t0.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, OutcomePresent, rec.Outcome, "exactly at the grace boundary is present")

	d2 := testDescriptor(t0, time.Hour)
	rec, err = svc.MarkAttendance(context.Background(), d2, "S1", nil, t0.Add(15*time.Minute+time.Second))
	require.NoError(t, err)
	assert.Equal(t, OutcomeLate, rec.Outcome, "one second past the grace boundary is late")
}

func TestMarkAttendanceDuplicate(t *testing.T) {
	t0 := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)
	d := testDescriptor(t0, time.Hour)
	svc := NewService(NewMemoryStore(), 0)

	_, err := svc.MarkAttendance(context.Background(), d, "S1", nil, t0.Add(time.Minute))
	require.NoError(t, err)

	_, err = svc.MarkAttendance(context.Background(), d, "S1", nil, t0.Add(2*time.Minute))
	assert.Equal(t, RejectDuplicate, rejectionKind(t, err))

	// A different user on the same token is fine.
	_, err = svc.MarkAttendance(context.Background(), d, "S2", nil, t0.Add(2*time.Minute))
	assert.NoError(t, err)
}

func TestMarkAttendanceRaceFallsBackToStoreConstraint(t *testing.T) {
	t0 := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)
	d := testDescriptor(t0, time.Hour)
	store := &racingStore{MemoryStore: NewMemoryStore()}
	svc := NewService(store, 0)

	// Exists lies (no record) but Save hits the unique constraint, as when a
	// second device wins the race between the two calls.
	_, err := svc.MarkAttendance(context.Background(), d, "S1", nil, t0.Add(time.Minute))
	require.NoError(t, err)
	store.hideFromExists = true
	_, err = svc.MarkAttendance(context.Background(), d, "S1", nil, t0.Add(time.Minute))
	assert.Equal(t, RejectDuplicate, rejectionKind(t, err))
}

type racingStore struct {
	*MemoryStore
	hideFromExists bool
}

func (s *racingStore) Exists(ctx context.Context, userID, sessionToken string) (bool, error) {
	if s.hideFromExists {
		return false, nil
	}
	return s.MemoryStore.Exists(ctx, userID, sessionToken)
}

func TestMarkAttendanceGeofence(t *testing.T) {
	t0 := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)
	d := testDescriptor(t0, time.Hour)
	d.Geofence = &token.Geofence{Latitude: 12.9716, Longitude: 77.5946, RadiusM: 100}

	tests := []struct {
		name    string
		loc     *Location
		wantErr bool
	}{
		{name: "no location reported", loc: nil, wantErr: true},
		{name: "at center", loc: &Location{Latitude: 12.9716, Longitude: 77.5946}},
		{name: "inside radius", loc: &Location{Latitude: 12.9720, Longitude: 77.5946}},
		{name: "outside radius", loc: &Location{Latitude: 12.9736, Longitude: 77.5946}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(NewMemoryStore(), 0)
			_, err := svc.MarkAttendance(context.Background(), d, "S1", tt.loc, t0.Add(time.Minute))
			if tt.wantErr {
				assert.Equal(t, RejectOutOfRange, rejectionKind(t, err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMarkScannedMalformed(t *testing.T) {
	svc := NewService(NewMemoryStore(), 0)
	_, err := svc.MarkScanned(context.Background(), "not a token", "S1", nil, time.Now())
	assert.Equal(t, RejectMalformedToken, rejectionKind(t, err))

	// Infrastructure failures stay ordinary errors, not rejections.
	_, err = svc.MarkAttendance(context.Background(), testDescriptor(time.Now(), time.Hour), "", nil, time.Now())
	var rej *Rejection
	assert.False(t, errors.As(err, &rej))
	assert.Error(t, err)
}

// Mirrors the scan flow end to end: a 30-minute session opened at T0, an
// on-time scan, a duplicate, and a scan after expiry.
func TestScanScenario(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	d := token.SessionDescriptor{
		ClassID:      "CS101",
		IssuerID:     "T1",
		SessionToken: token.NewSessionToken(),
		IssuedAt:     t0,
		ExpiresAt:    t0.Add(30 * time.Minute),
	}
	require.Equal(t, int64(2800), d.ExpiresAt.Unix())

	svc := NewService(NewMemoryStore(), DefaultGraceWindow)
	encoded := token.Encode(d)

	rec, err := svc.MarkScanned(context.Background(), encoded, "S1", nil, time.Unix(1010, 0).UTC())
	require.NoError(t, err)
	assert.Equal(t, OutcomePresent, rec.Outcome)

	_, err = svc.MarkScanned(context.Background(), encoded, "S1", nil, time.Unix(1500, 0).UTC())
	assert.Equal(t, RejectDuplicate, rejectionKind(t, err))

	_, err = svc.MarkScanned(context.Background(), encoded, "S2", nil, time.Unix(3000, 0).UTC())
	assert.Equal(t, RejectExpired, rejectionKind(t, err))
}

func TestStatsForUser(t *testing.T) {
	svc := NewService(NewMemoryStore(), DefaultGraceWindow)
	t0 := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)

	// Two on-time scans, one late, one swept absence.
	for i := 0; i < 2; i++ {
		d := testDescriptor(t0, time.Hour)
		_, err := svc.MarkAttendance(context.Background(), d, "S1", nil, t0.Add(time.Minute))
		require.NoError(t, err)
	}
	d := testDescriptor(t0, time.Hour)
	_, err := svc.MarkAttendance(context.Background(), d, "S1", nil, t0.Add(20*time.Minute))
	require.NoError(t, err)
	_, err = svc.store.Save(context.Background(), Record{
		ID: "r-abs", UserID: "S1", ClassID: "CS101",
		SessionToken: token.NewSessionToken(), RecordedAt: t0, Outcome: OutcomeAbsent,
	})
	require.NoError(t, err)

	st, err := svc.StatsForUser(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 4, Present: 2, Late: 1, Absent: 1, Attended: 3, Rate: 75}, st)
}
