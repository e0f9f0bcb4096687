package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
)

var (
	// ErrNotImage is returned when the uploaded bytes are not an accepted image type
	ErrNotImage = errors.New("file is not a supported image")
	// ErrTooLarge is returned when the upload exceeds the size limit
	ErrTooLarge = errors.New("file too large")
	// ErrEmptyFile is returned for zero-byte uploads
	ErrEmptyFile = errors.New("file is empty")
)

// ImageTypes is the whitelist of sniffed MIME types accepted for photos
var ImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
	"image/heic": true,
}

// heicBrands are the ISO BMFF major brands used by HEIC/HEIF photos
var heicBrands = map[string]bool{
	"heic": true, "heix": true, "heim": true, "heis": true,
	"hevc": true, "hevx": true, "mif1": true, "msf1": true,
}

// SniffImage reads the first 512 bytes of body and checks them against ImageTypes.
// It returns a reader that replays the sniffed bytes followed by the rest of body,
// and the detected MIME type. The declared content type is never trusted.
func SniffImage(body io.Reader, size, maxSize int64) (io.Reader, string, error) {
	if maxSize > 0 && size > maxSize {
		return nil, "", fmt.Errorf("%w: maximum size is %d MB", ErrTooLarge, maxSize>>20)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	if n == 0 {
		return nil, "", ErrEmptyFile
	}
	head = head[:n]

	detected := detectType(head)
	if !ImageTypes[detected] {
		return nil, "", fmt.Errorf("%w (detected: %s)", ErrNotImage, detected)
	}

	return io.MultiReader(bytes.NewReader(head), body), detected, nil
}

// detectType is http.DetectContentType plus HEIC, which it does not know
func detectType(head []byte) string {
	if len(head) >= 12 && string(head[4:8]) == "ftyp" && heicBrands[string(head[8:12])] {
		return "image/heic"
	}
	return http.DetectContentType(head)
}

// CleanFilename reduces a client-supplied file name to a safe single path segment
func CleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "photo"
	}
	return name
}
