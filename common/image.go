package common

import (
	"fmt"
	"image"
	"image/png"
	"io"
)

// RGBAImage wraps a tightly packed RGBA8 buffer, row 0 at the top, as an image without copying.
// The channels are not premultiplied, so the result is an *image.NRGBA.
//
// Parameters:
//   - width: image width in pixels
//   - height: image height in pixels
//   - pix: the pixel buffer, exactly width*height*4 bytes
//
// Returns:
//   - *image.NRGBA: the image sharing pix
//   - error: error if pix has the wrong length
func RGBAImage(width, height uint32, pix []byte) (*image.NRGBA, error) {
	if len(pix) != RGBABufferSize(width, height) {
		return nil, fmt.Errorf("pixel buffer is %d bytes, want %d", len(pix), RGBABufferSize(width, height))
	}
	return &image.NRGBA{
		Pix:    pix,
		Stride: int(width) * 4,
		Rect:   image.Rect(0, 0, int(width), int(height)),
	}, nil
}

// EncodePNG writes an RGBA8 buffer to w as a PNG.
//
// Parameters:
//   - w: the destination
//   - width: image width in pixels
//   - height: image height in pixels
//   - pix: the pixel buffer, exactly width*height*4 bytes
//
// Returns:
//   - error: error if pix has the wrong length or encoding fails
func EncodePNG(w io.Writer, width, height uint32, pix []byte) error {
	img, err := RGBAImage(width, height, pix)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}
