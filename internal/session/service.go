package session

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/token"
)

// DefaultWindow is the attendance window applied when the teacher does not
// pick one.
const DefaultWindow = 30 * time.Minute

// ErrNoActiveSession is returned when a class has no live session.
var ErrNoActiveSession = errors.New("session: no active session for class")

// Generator produces and tracks the active session descriptor for a class.
// Descriptors are immutable; Regenerate inserts a new row and the superseded
// token simply ages out at its own expiry.
type Generator struct {
	repo   *Repository
	cache  *redis.Client // optional; nil disables the active-session cache
	window time.Duration
}

// NewGenerator creates a generator backed by the repository, with an optional
// Redis cache for active-session lookups.
func NewGenerator(repo *Repository, cache *redis.Client, window time.Duration) *Generator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Generator{repo: repo, cache: cache, window: window}
}

// Generate opens a new attendance window for the class and persists it.
func (g *Generator) Generate(ctx context.Context, classID, className, issuerID string, window time.Duration, fence *token.Geofence) (token.SessionDescriptor, error) {
	if classID == "" || issuerID == "" {
		return token.SessionDescriptor{}, errors.New("session: class and issuer required")
	}
	if window <= 0 {
		window = g.window
	}
	now := time.Now().UTC()
	d := token.SessionDescriptor{
		ClassID:      classID,
		ClassName:    className,
		IssuerID:     issuerID,
		SessionToken: token.NewSessionToken(),
		IssuedAt:     now,
		ExpiresAt:    now.Add(window),
		Geofence:     fence,
	}
	if err := g.repo.Insert(ctx, d); err != nil {
		return token.SessionDescriptor{}, err
	}
	g.cacheActive(ctx, d)
	observeGenerated()
	return d, nil
}

// Regenerate opens a fresh session for the class and returns it together with
// the descriptor it supersedes, when one was still live. The old token stays
// valid for check-ins until its own expiry; the superseded descriptor is
// returned so the caller can schedule its absence sweep.
func (g *Generator) Regenerate(ctx context.Context, classID, className, issuerID string, window time.Duration, fence *token.Geofence) (fresh token.SessionDescriptor, superseded *token.SessionDescriptor, err error) {
	if prev, perr := g.Active(ctx, classID); perr == nil {
		superseded = &prev
	} else if !errors.Is(perr, ErrNoActiveSession) {
		return token.SessionDescriptor{}, nil, perr
	}
	className, fence = regenDefaults(className, fence, superseded)
	fresh, err = g.Generate(ctx, classID, className, issuerID, window, fence)
	if err != nil {
		return token.SessionDescriptor{}, nil, err
	}
	return fresh, superseded, nil
}

// regenDefaults fills fields omitted on regenerate from the superseded
// descriptor, so an empty regenerate keeps the class name and geofence of
// the session it replaces.
func regenDefaults(className string, fence *token.Geofence, prev *token.SessionDescriptor) (string, *token.Geofence) {
	if prev == nil {
		return className, fence
	}
	if className == "" {
		className = prev.ClassName
	}
	if fence == nil {
		fence = prev.Geofence
	}
	return className, fence
}

// Active returns the class's live descriptor, or ErrNoActiveSession.
func (g *Generator) Active(ctx context.Context, classID string) (token.SessionDescriptor, error) {
	now := time.Now().UTC()
	if d, ok := g.cachedActive(ctx, classID); ok && !d.Expired(now) {
		return d, nil
	}
	d, err := g.repo.Latest(ctx, classID)
	if err != nil {
		return token.SessionDescriptor{}, err
	}
	if d == nil || d.Expired(now) {
		return token.SessionDescriptor{}, ErrNoActiveSession
	}
	return *d, nil
}

// Lookup fetches a descriptor by its session token, live or dead.
func (g *Generator) Lookup(ctx context.Context, sessionToken string) (*token.SessionDescriptor, error) {
	return g.repo.Get(ctx, sessionToken)
}

// TimeRemaining is the countdown value for a session: ExpiresAt minus now,
// clamped at zero. Pure; callers recompute it on every poll. Display only —
// true expiry is enforced by the attendance validator.
func TimeRemaining(now, expiresAt time.Time) time.Duration {
	if remaining := expiresAt.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

func activeKey(classID string) string { return "rollcall:active:" + classID }

func (g *Generator) cacheActive(ctx context.Context, d token.SessionDescriptor) {
	if g.cache == nil {
		return
	}
	ttl := TimeRemaining(time.Now().UTC(), d.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if err := g.cache.Set(ctx, activeKey(d.ClassID), token.Encode(d), ttl).Err(); err != nil {
		log.Printf("session cache set failed: %v", err)
	}
}

func (g *Generator) cachedActive(ctx context.Context, classID string) (token.SessionDescriptor, bool) {
	if g.cache == nil {
		return token.SessionDescriptor{}, false
	}
	encoded, err := g.cache.Get(ctx, activeKey(classID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("session cache get failed: %v", err)
		}
		return token.SessionDescriptor{}, false
	}
	d, err := token.Decode(encoded)
	if err != nil {
		return token.SessionDescriptor{}, false
	}
	return d, true
}
