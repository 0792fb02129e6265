package giftcard

import (
	"crypto/rand"
	"strings"

	"github.com/go-faster/errors"
	"github.com/skip2/go-qrcode"
)

// codeAlphabet omits characters that are easily confused when read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewCode returns a random code of the form GC-XXXX-XXXX-XXXX.
func NewCode() (string, error) {
	raw := make([]byte, 12)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(err, "read random")
	}
	var b strings.Builder
	b.WriteString("GC")
	for i, c := range raw {
		if i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return b.String(), nil
}

// NormalizeCode upper-cases and trims a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// QRCode renders the card code as a PNG suitable for attaching to the
// recipient notification.
func QRCode(code string, size int) ([]byte, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return nil, errors.Wrap(err, "encode qr")
	}
	return png, nil
}
