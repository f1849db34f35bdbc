// Package qrimage renders QR barcodes as PNG images.
package qrimage

import (
	"encoding/base64"
	"strings"

	"github.com/samber/oops"
	"github.com/skip2/go-qrcode"
)

// ContentType is the media type of rendered images.
const ContentType = "image/png"

// DefaultSize is the default image edge length in pixels.
const DefaultSize = 256

const dataURIPrefix = "data:" + ContentType + ";base64,"

// Encoder renders content at error-correction level Q (25% recovery).
type Encoder struct {
	size int
}

// NewEncoder returns an encoder producing size x size images.
// Non-positive sizes use DefaultSize.
func NewEncoder(size int) *Encoder {
	if size <= 0 {
		size = DefaultSize
	}
	return &Encoder{size: size}
}

// Size returns the image edge length in pixels.
func (e *Encoder) Size() int {
	return e.size
}

// PNG renders content as a PNG barcode.
func (e *Encoder) PNG(content string) ([]byte, error) {
	if content == "" {
		return nil, oops.Errorf("qr content is empty")
	}
	png, err := qrcode.Encode(content, qrcode.High, e.size)
	if err != nil {
		return nil, oops.Wrapf(err, "encode qr")
	}
	return png, nil
}

// DataURI returns png as an inline base64 data URI.
func DataURI(png []byte) string {
	return dataURIPrefix + base64.StdEncoding.EncodeToString(png)
}

// DecodeDataURI reverses DataURI.
func DecodeDataURI(uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, dataURIPrefix) {
		return nil, oops.Errorf("not a png data uri")
	}
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, dataURIPrefix))
	if err != nil {
		return nil, oops.Wrapf(err, "decode data uri")
	}
	return png, nil
}
