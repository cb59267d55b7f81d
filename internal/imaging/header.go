package imaging

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
)

// checkDimensions rejects headers that declare an empty canvas. The stdlib
// decoders refuse such headers with a format error, which would read as a
// corrupt upload rather than one that cannot be transformed.
func checkDimensions(data []byte, m *mimetype.MIME) error {
	w, h, ok := headerSize(data, m)
	if !ok || (w > 0 && h > 0) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeTransform, fmt.Sprintf("degenerate source %dx%d", w, h)).
		WithDetails(map[string]any{"detected_mime": m.String(), "width": w, "height": h})
}

// headerSize reads the declared canvas size without decoding. ok is false
// when the header is too short or the layout is not one we parse.
func headerSize(data []byte, m *mimetype.MIME) (w, h int, ok bool) {
	switch {
	case m.Is("image/png"):
		// 8 byte signature, IHDR length and type, then width and height.
		if len(data) < 24 || !bytes.Equal(data[12:16], []byte("IHDR")) {
			return 0, 0, false
		}
		return int(binary.BigEndian.Uint32(data[16:20])), int(binary.BigEndian.Uint32(data[20:24])), true
	case m.Is("image/gif"):
		if len(data) < 10 {
			return 0, 0, false
		}
		return int(binary.LittleEndian.Uint16(data[6:8])), int(binary.LittleEndian.Uint16(data[8:10])), true
	case m.Is("image/jpeg"):
		return jpegSize(data)
	case m.Is("image/webp"):
		// Only lossy VP8 can declare zero; VP8L and VP8X store size minus one.
		if len(data) < 30 || !bytes.Equal(data[12:16], []byte("VP8 ")) || !bytes.Equal(data[23:26], []byte{0x9d, 0x01, 0x2a}) {
			return 0, 0, false
		}
		return int(binary.LittleEndian.Uint16(data[26:28]) & 0x3fff), int(binary.LittleEndian.Uint16(data[28:30]) & 0x3fff), true
	}
	return 0, 0, false
}

// jpegSize walks the marker segments up to the first start-of-frame.
func jpegSize(data []byte) (w, h int, ok bool) {
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xff {
			return 0, 0, false
		}
		marker := data[i+1]
		switch {
		case marker == 0xff:
			i++
			continue
		case marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7):
			i += 2
			continue
		case marker >= 0xc0 && marker <= 0xcf && marker != 0xc4 && marker != 0xc8 && marker != 0xcc:
			if i+9 > len(data) {
				return 0, 0, false
			}
			return int(binary.BigEndian.Uint16(data[i+7 : i+9])), int(binary.BigEndian.Uint16(data[i+5 : i+7])), true
		}
		i += 2 + int(binary.BigEndian.Uint16(data[i+2:i+4]))
	}
	return 0, 0, false
}
