package common

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalesce(t *testing.T) {
	assert.Equal(t, "b", Coalesce("", "b", "c"))
	assert.Equal(t, "", Coalesce[string]())
	assert.Equal(t, 3, Coalesce(0, 0, 3))
}

func TestEncodePNG(t *testing.T) {
	pix := []byte{
		255, 0, 0, 255, 0, 255, 0, 128,
		0, 0, 255, 255, 0, 0, 0, 0,
	}

	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, 2, 2, pix))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, color.NRGBAModel.Convert(img.At(0, 0)))
	assert.Equal(t, color.NRGBA{G: 255, A: 128}, color.NRGBAModel.Convert(img.At(1, 0)))
	assert.Equal(t, color.NRGBA{B: 255, A: 255}, color.NRGBAModel.Convert(img.At(0, 1)))

	assert.Error(t, EncodePNG(&buf, 3, 2, pix))
}

func TestDecodeScalesOversizeTextures(t *testing.T) {
	assert.Equal(t, 4096, fitWithin(8192, 2048, 4096).Dx())
	assert.Equal(t, 1024, fitWithin(8192, 2048, 4096).Dy())
	assert.Equal(t, 1, fitWithin(1, 100000, 4096).Dx())

	_, err := (&ImportedTexture{Name: "empty"}).Decode()
	assert.Error(t, err)
	_, err = (&ImportedTexture{Data: []byte("not an image")}).Decode()
	assert.Error(t, err)
}
