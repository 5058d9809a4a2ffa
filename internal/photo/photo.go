package photo

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

// MaxBytes is the largest photo accepted from a file pick.
const MaxBytes = 5 * 1024 * 1024

const (
	stillQuality   = 80
	previewSize    = 320
	previewQuality = 70
)

var (
	ErrInvalidPhotoType = errors.New("photo must be an image")
	ErrPhotoTooLarge    = errors.New("photo exceeds 5 MB")
)

// Photo is a still image waiting to be submitted. It lives only in memory.
type Photo struct {
	Data     []byte
	MIMEType string
	Name     string
	// Preview is a data URL of a small JPEG thumbnail.
	Preview string
	Width   int
	Height  int
}

// Filename returns the name used for the upload part.
func (p *Photo) Filename() string {
	if p.Name != "" {
		return p.Name
	}
	return "capture.jpg"
}

// Capturer is a live source that can take a single still and release itself.
type Capturer interface {
	CaptureStill() (*Photo, error)
	Stop()
}

// FromCamera takes a still from c and stops it whether or not the capture worked.
func FromCamera(c Capturer) (*Photo, error) {
	defer c.Stop()
	return c.CaptureStill()
}

// FromFile validates and loads a picked file. size is the size reported by the
// picker, or a negative value when unknown.
func FromFile(name string, size int64, r io.Reader) (*Photo, error) {
	if size > MaxBytes {
		return nil, ErrPhotoTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}
	if len(data) > MaxBytes {
		return nil, ErrPhotoTooLarge
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, ErrInvalidPhotoType
	}
	p := &Photo{Data: data, MIMEType: mt.String(), Name: name}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		// Formats without a Go decoder (HEIC, AVIF, SVG) are previewed as is.
		p.Preview = "data:" + p.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(data)
		return p, nil
	}
	if p.Preview, err = previewOf(img); err != nil {
		return nil, err
	}
	b := img.Bounds()
	p.Width, p.Height = b.Dx(), b.Dy()
	return p, nil
}

// FromImage encodes a raw frame as JPEG at its native resolution.
func FromImage(img image.Image, name string) (*Photo, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("empty frame")
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(stillQuality)); err != nil {
		return nil, fmt.Errorf("encode still: %w", err)
	}
	preview, err := previewOf(img)
	if err != nil {
		return nil, err
	}
	return &Photo{
		Data:     buf.Bytes(),
		MIMEType: "image/jpeg",
		Name:     name,
		Preview:  preview,
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}

func previewOf(img image.Image) (string, error) {
	thumb := imaging.Fit(img, previewSize, previewSize, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(previewQuality)); err != nil {
		return "", fmt.Errorf("encode preview: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
