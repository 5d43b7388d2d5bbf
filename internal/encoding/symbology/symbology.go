package symbology

import (
	"bytes"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/pdf417"
	"github.com/boombuler/barcode/qr"
	"github.com/pkg/errors"
)

type Symbology string

const (
	QRCode Symbology = "QRCODE"
	PDF417 Symbology = "PDF417"
)

const (
	qrScale     = 4
	pdf417Scale = 2

	pdf417SecurityLevel = 2
)

// PNGEncoder renders payloads as PNG images.
type PNGEncoder struct{}

func NewPNGEncoder() *PNGEncoder { return &PNGEncoder{} }

func (e *PNGEncoder) Encode(payload string, sym Symbology) ([]byte, error) {
	if payload == "" {
		return nil, errors.New("empty payload")
	}

	var (
		bc    barcode.Barcode
		scale int
		err   error
	)
	switch sym {
	case QRCode:
		bc, err = qr.Encode(payload, qr.M, qr.Auto)
		scale = qrScale
	case PDF417:
		bc, err = pdf417.Encode(payload, pdf417SecurityLevel)
		scale = pdf417Scale
	default:
		return nil, errors.Errorf("unsupported symbology %q", sym)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", sym)
	}

	b := bc.Bounds()
	scaled, err := barcode.Scale(bc, b.Dx()*scale, b.Dy()*scale)
	if err != nil {
		return nil, errors.Wrapf(err, "scale %s", sym)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, errors.Wrap(err, "png encode")
	}
	return buf.Bytes(), nil
}
