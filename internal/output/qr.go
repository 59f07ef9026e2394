package output

import (
	"fmt"
	"io"

	qrcode "github.com/skip2/go-qrcode"
)

// RenderQR draws data as a QR code with half-height block characters.
// Addresses are short, so low error correction keeps the code small.
func RenderQR(w io.Writer, data string) error {
	q, err := qrcode.New(data, qrcode.Low)
	if err != nil {
		return fmt.Errorf("encoding qr code: %w", err)
	}
	_, err = io.WriteString(w, q.ToSmallString(false))
	return err
}

// CanRenderQR reports whether w is a terminal that can show a QR code.
func CanRenderQR(w io.Writer) bool {
	return isTerminal(w)
}
