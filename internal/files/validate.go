package files

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxImageBytes matches the upload hint shown to users (10MB).
const DefaultMaxImageBytes = 10 << 20

var (
	ErrEmptyImage      = errors.New("image is empty")
	ErrImageTooLarge   = errors.New("image exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrBadDataURL      = errors.New("malformed image data")
)

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// ImageInfo is the sniffed type of a validated image.
type ImageInfo struct {
	MIMEType  string
	Extension string
	Size      int
}

// ValidateImage checks size and sniffs content; the declared filename is never trusted.
func ValidateImage(data []byte, maxBytes int64) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{}, ErrEmptyImage
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	if int64(len(data)) > maxBytes {
		return ImageInfo{}, fmt.Errorf("%w: %d bytes > %d", ErrImageTooLarge, len(data), maxBytes)
	}
	mt := mimetype.Detect(data)
	for allowed, ext := range allowedTypes {
		if mt.Is(allowed) {
			return ImageInfo{MIMEType: allowed, Extension: ext, Size: len(data)}, nil
		}
	}
	return ImageInfo{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
}

// DecodeDataURL accepts "data:image/png;base64,..." or bare base64.
func DecodeDataURL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 || !strings.Contains(s[:i], ";base64") {
			return nil, ErrBadDataURL
		}
		s = s[i+1:]
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDataURL, err)
	}
	return b, nil
}
