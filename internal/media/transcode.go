package media

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // Registers the webp decoder
)

// convertibleImage matches the file extensions the image transcoder
// knows how to re-encode.
var convertibleImage = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|webp|gif)$`)

// IsConvertibleImage reports whether path looks like an image the
// transcoder can handle.
func IsConvertibleImage(path string) bool {
	return convertibleImage.MatchString(path)
}

// TranscodeImage decodes an image blob, scales it down so neither
// dimension exceeds maxDim (never upscaling), and re-encodes it as JPEG
// at the given quality (1-100).
func TranscodeImage(data []byte, maxDim, quality int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxDim || bounds.Dy() > maxDim {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
