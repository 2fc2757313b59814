package token

import (
	"crypto/rand"
	"encoding/hex"
	"math"
	"time"
)

// Geofence restricts check-ins to a circle around the classroom.
type Geofence struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RadiusM   float64 `json:"radius"`
}

// SessionDescriptor is one open attendance window for one class meeting.
// Descriptors are immutable once issued; regenerating a session produces a
// new descriptor with a new token rather than mutating the old one.
type SessionDescriptor struct {
	ClassID      string    `json:"classId"`
	ClassName    string    `json:"className,omitempty"`
	IssuerID     string    `json:"issuerId"`
	SessionToken string    `json:"sessionToken"`
	IssuedAt     time.Time `json:"issuedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Geofence     *Geofence `json:"geofence,omitempty"`
}

// Expired reports whether the descriptor is dead at the given instant.
// A check-in exactly at ExpiresAt is still valid.
func (d SessionDescriptor) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// NewSessionToken returns a fresh random token. 16 bytes from crypto/rand,
// hex-encoded, so collisions are negligible across any realistic deployment.
func NewSessionToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// nothing sensible can run in that state.
		panic("token: entropy source unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

const earthRadiusM = 6371000.0

// Contains reports whether the point lies within the fence. A point at
// exactly RadiusM meters from the center counts as inside.
func (g Geofence) Contains(lat, lng float64) bool {
	return haversineM(g.Latitude, g.Longitude, lat, lng) <= g.RadiusM
}

// haversineM returns the great-circle distance between two points in meters.
func haversineM(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(a))
}
