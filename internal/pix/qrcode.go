package pix

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

const defaultQRSize = 256

// QRCode renders payload as a PNG scannable by banking apps.
func QRCode(payload string, size int) ([]byte, error) {
	if size <= 0 {
		size = defaultQRSize
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return png, nil
}
