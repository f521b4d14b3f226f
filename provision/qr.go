package provision

import (
	"bytes"
	"io"

	"github.com/yeqown/go-qrcode/v2"
	"github.com/yeqown/go-qrcode/writer/standard"
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// renderQR draws the link payload as a PNG. The QR carries the bare
// base64 payload; client apps add the vpn:// scheme themselves when
// scanning.
func renderQR(payload string) ([]byte, error) {
	qrc, err := qrcode.NewWith(payload,
		qrcode.WithErrorCorrectionLevel(qrcode.ErrorCorrectionMedium))
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	w := standard.NewWithWriter(nopCloser{buf}, standard.WithQRWidth(15))
	if err := qrc.Save(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
