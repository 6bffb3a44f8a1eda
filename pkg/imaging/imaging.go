// Package imaging turns uploaded image bytes into conversation images.
//
// Every accepted upload is decoded and re-encoded as PNG so the model
// always receives a single media type.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/harun/multichat/pkg/conversation"
)

const (
	MaxImageSize     = 5 * 1024 * 1024 // 5MB
	MaxImagesPerTurn = 20

	MediaTypePNG = "image/png"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTooLarge          = errors.New("image too large")
	ErrTooMany           = errors.New("too many images")
)

var acceptedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
}

// Upload is a raw image as received from the presentation layer
type Upload struct {
	Name string
	Data []byte
}

// ReadUpload reads at most MaxImageSize bytes from r.
func ReadUpload(name string, r io.Reader) (Upload, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageSize+1))
	if err != nil {
		return Upload{}, fmt.Errorf("failed to read image %q: %w", name, err)
	}
	if len(data) > MaxImageSize {
		return Upload{}, fmt.Errorf("%w: %q exceeds %d bytes", ErrTooLarge, name, MaxImageSize)
	}
	return Upload{Name: name, Data: data}, nil
}

// Normalize checks the upload format and converts it to PNG
func Normalize(u Upload) (conversation.Image, error) {
	if len(u.Data) == 0 {
		return conversation.Image{}, fmt.Errorf("%w: %q is empty", ErrUnsupportedFormat, u.Name)
	}
	if len(u.Data) > MaxImageSize {
		return conversation.Image{}, fmt.Errorf("%w: %q exceeds %d bytes", ErrTooLarge, u.Name, MaxImageSize)
	}

	mtype := mimetype.Detect(u.Data)
	if !acceptedTypes[mtype.String()] {
		return conversation.Image{}, fmt.Errorf("%w: %q is %s", ErrUnsupportedFormat, u.Name, mtype.String())
	}

	name := pngName(u.Name)
	if mtype.Is(MediaTypePNG) {
		if _, err := png.Decode(bytes.NewReader(u.Data)); err != nil {
			return conversation.Image{}, fmt.Errorf("%w: failed to decode %q: %v", ErrUnsupportedFormat, u.Name, err)
		}
		data := make([]byte, len(u.Data))
		copy(data, u.Data)
		return conversation.Image{Name: name, MediaType: MediaTypePNG, Data: data}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(u.Data))
	if err != nil {
		return conversation.Image{}, fmt.Errorf("%w: failed to decode %q: %v", ErrUnsupportedFormat, u.Name, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return conversation.Image{}, fmt.Errorf("failed to encode %q as png: %w", u.Name, err)
	}
	if buf.Len() > MaxImageSize {
		return conversation.Image{}, fmt.Errorf("%w: %q exceeds %d bytes after conversion", ErrTooLarge, u.Name, MaxImageSize)
	}

	return conversation.Image{Name: name, MediaType: MediaTypePNG, Data: buf.Bytes()}, nil
}

// NormalizeAll normalizes a batch of uploads, preserving order.
// A nil set is returned when there are no uploads.
func NormalizeAll(uploads []Upload) (conversation.ImageSet, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	if len(uploads) > MaxImagesPerTurn {
		return nil, fmt.Errorf("%w: %d uploads, limit is %d", ErrTooMany, len(uploads), MaxImagesPerTurn)
	}

	set := make(conversation.ImageSet, 0, len(uploads))
	for _, u := range uploads {
		img, err := Normalize(u)
		if err != nil {
			return nil, err
		}
		set = append(set, img)
	}
	return set, nil
}

// IsClientError reports whether err was caused by the uploaded content
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrTooLarge) || errors.Is(err, ErrTooMany)
}

func pngName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "image.png"
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".png"
}
