// Package imageinfo identifies downloaded images by their content rather
// than by the name the chat platform reports, and pulls the capture date
// from EXIF when the camera recorded one.
package imageinfo

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"
)

// ErrUnsupported is returned for data that is not a decodable image.
var ErrUnsupported = errors.New("imageinfo: unsupported image format")

// Info describes one image.
type Info struct {
	Format   string // jpeg, png, gif or webp
	Ext      string // file extension without dot (jpg for jpeg)
	MIMEType string
	Width    int
	Height   int

	// TakenAt is the EXIF capture time; zero when absent.
	TakenAt time.Time
}

// HasDate reports whether a capture time was found.
func (i *Info) HasDate() bool {
	return !i.TakenAt.IsZero()
}

// Inspect sniffs the format and dimensions of data and reads its EXIF
// capture date. EXIF errors are not fatal; only undecodable data is.
func Inspect(data []byte) (*Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	info := &Info{
		Format:   format,
		Ext:      ExtFor(format),
		MIMEType: MIMEFor(format),
		Width:    cfg.Width,
		Height:   cfg.Height,
	}

	if format == "jpeg" || format == "webp" {
		info.TakenAt = captureTime(data)
	}
	return info, nil
}

// captureTime returns DateTimeOriginal, then CreateDate, then ModifyDate.
func captureTime(data []byte) time.Time {
	exif, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF metadata")
		return time.Time{}
	}
	for _, t := range []time.Time{exif.DateTimeOriginal(), exif.CreateDate(), exif.ModifyDate()} {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

// ExtFor maps a decoder format name to the extension used in the gallery.
func ExtFor(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return "jpg"
	case "png":
		return "png"
	case "webp":
		return "webp"
	case "gif":
		return "gif"
	}
	return "jpg"
}

// MIMEFor maps a decoder format name or extension to a MIME type.
func MIMEFor(format string) string {
	switch strings.ToLower(format) {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	}
	return "image/jpeg"
}
