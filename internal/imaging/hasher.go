package imaging

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
)

const contentHashLen = sha256.Size * 2

// ContentHash is the lowercase hex SHA-256 of an upload's source bytes.
type ContentHash string

func (h ContentHash) String() string {
	return string(h)
}

// Valid reports whether h has the shape Hash produces.
func (h ContentHash) Valid() bool {
	if len(h) != contentHashLen {
		return false
	}
	for _, r := range h {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}

// ParseContentHash accepts a hex digest in any case and normalizes it.
func ParseContentHash(value string) (ContentHash, error) {
	h := ContentHash(strings.ToLower(strings.TrimSpace(value)))
	if !h.Valid() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid content hash %q", value))
	}
	return h, nil
}

// Hash derives the content identity of raw upload bytes. Input must be
// non-empty and sniff as an image; formats we can decode must also carry a
// readable header. Formats we cannot decode still hash, so the generator can
// report them as unsupported.
func Hash(data []byte) (ContentHash, error) {
	if len(data) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeInvalidInput, "upload is empty")
	}

	detected := mimetype.Detect(data)
	if !isImage(detected) {
		return "", pkgerrors.New(pkgerrors.CodeInvalidInput, "upload is not an image").
			WithDetails(map[string]any{"detected_mime": detected.String()})
	}
	if decodable(detected) {
		if err := checkDimensions(data, detected); err != nil {
			return "", err
		}
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInvalidInput, err, "image header is unreadable").
				WithDetails(map[string]any{"detected_mime": detected.String()})
		}
	}

	sum := sha256.Sum256(data)
	return ContentHash(hex.EncodeToString(sum[:])), nil
}

func isImage(m *mimetype.MIME) bool {
	return strings.HasPrefix(m.String(), "image/")
}
