package symbology

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPNGEncoder_Encode(t *testing.T) {
	e := NewPNGEncoder()
	for _, sym := range []Symbology{QRCode, PDF417} {
		b, err := e.Encode("3f1c9a52-5d0c-4c1b-9d6e-0a4f5b8e7c21", sym)
		require.NoError(t, err, sym)

		img, err := png.Decode(bytes.NewReader(b))
		require.NoError(t, err, sym)
		require.Greater(t, img.Bounds().Dx(), 0)
	}
}

func TestPNGEncoder_Errors(t *testing.T) {
	e := NewPNGEncoder()
	_, err := e.Encode("", QRCode)
	require.Error(t, err)

	_, err = e.Encode("x", Symbology("CODE128"))
	require.Error(t, err)
}
