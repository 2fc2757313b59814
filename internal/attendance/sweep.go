package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/token"
)

// AbsenteeLister yields enrolled students with no record for a session.
type AbsenteeLister interface {
	ListAbsentees(ctx context.Context, classID, sessionToken string) ([]string, error)
}

// SweepAbsentees writes absent records for every enrolled student who never
// submitted before the session died. Scans never produce absent outcomes;
// this is the reporting path that fills them in afterwards. Safe to re-run:
// the duplicate constraint makes repeated sweeps no-ops.
func (s *Service) SweepAbsentees(ctx context.Context, d token.SessionDescriptor, lister AbsenteeLister, now time.Time) (int, error) {
	absentees, err := lister.ListAbsentees(ctx, d.ClassID, d.SessionToken)
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, userID := range absentees {
		rec := Record{
			ID:           uuid.NewString(),
			UserID:       userID,
			ClassID:      d.ClassID,
			ClassName:    d.ClassName,
			SessionToken: d.SessionToken,
			RecordedAt:   now.UTC(),
			Outcome:      OutcomeAbsent,
		}
		if _, err := s.store.Save(ctx, rec); err != nil {
			if errors.Is(err, ErrDuplicateRecord) {
				continue
			}
			return marked, err
		}
		marked++
	}
	return marked, nil
}
