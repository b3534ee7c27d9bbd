// Package media prepares uploaded photos for the vision model.
package media

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
)

// ErrUnsupportedType is returned for files that are not JPEG or PNG.
var ErrUnsupportedType = errors.New("invalid file type: only JPEG, JPG and PNG images are allowed")

var allowedExtensions = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
}

// AllowedExtension reports whether filename has an accepted image extension.
func AllowedExtension(filename string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Upload is an image ready to be sent inline.
type Upload struct {
	Data     []byte
	MIMEType string
	Hash     string
	Width    int
	Height   int
}

// PrepareUpload decodes a JPEG or PNG, downscales it to maxWidth with
// Lanczos3 if it is wider, and re-encodes it as JPEG. A zero maxWidth keeps
// the original size.
func PrepareUpload(data []byte, maxWidth uint) (*Upload, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if format != "jpeg" && format != "png" {
		return nil, ErrUnsupportedType
	}

	if maxWidth > 0 && uint(img.Bounds().Dx()) > maxWidth {
		img = resize.Resize(maxWidth, 0, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	out := buf.Bytes()
	return &Upload{
		Data:     out,
		MIMEType: "image/jpeg",
		Hash:     Hash(out),
		Width:    img.Bounds().Dx(),
		Height:   img.Bounds().Dy(),
	}, nil
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DataURI renders data as a base64 data URI.
func DataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
