package pass

import (
	"fmt"
	"io"

	"github.com/yeqown/go-qrcode"
)

// WriteQR renders payload as a JPEG QR code. width is the pixel size of one
// QR block.
func WriteQR(w io.Writer, payload string, width int) error {
	if payload == "" {
		return fmt.Errorf("empty qr payload")
	}
	var opts []qrcode.ImageOption
	if width > 0 && width <= 255 {
		opts = append(opts, qrcode.WithQRWidth(uint8(width)))
	}

	qrc, err := qrcode.New(payload, opts...)
	if err != nil {
		return fmt.Errorf("build qr code: %w", err)
	}
	if err := qrc.SaveTo(w); err != nil {
		return fmt.Errorf("write qr code: %w", err)
	}
	return nil
}
