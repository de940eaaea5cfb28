package qr

import (
	"errors"

	"github.com/skip2/go-qrcode"

	"ms-admission/internal/codec"
)

const DefaultSize = 256

var ErrEmptyCode = errors.New("qr: empty code")

// QRGenerator renders an encrypted admission code as a PNG. The image
// carries the code string verbatim; nothing is decrypted here.
type QRGenerator struct {
	size  int
	level qrcode.RecoveryLevel
}

func NewQRGenerator(size int) *QRGenerator {
	if size <= 0 {
		size = DefaultSize
	}
	return &QRGenerator{size: size, level: qrcode.Medium}
}

func (q *QRGenerator) Render(encryptedCode string) ([]byte, error) {
	if encryptedCode == "" {
		return nil, ErrEmptyCode
	}
	if len(encryptedCode) > codec.MaxEncodedLen {
		return nil, errors.New("qr: code too long")
	}
	return qrcode.Encode(encryptedCode, q.level, q.size)
}
