// Package qrimg renders encoded session tokens as QR images for the
// teacher's screen. Scanning happens client-side; this is the server half of
// the exchange.
package qrimg

import (
	"errors"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the rendered image edge in pixels.
const DefaultSize = 320

// PNG renders the content as a QR code PNG. Medium error correction keeps
// the image scannable from a projector at classroom distance.
func PNG(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, errors.New("qrimg: empty content")
	}
	if size <= 0 {
		size = DefaultSize
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}
