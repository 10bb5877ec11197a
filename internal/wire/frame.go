package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameBytes bounds a single frame body. The largest legitimate frame is
// an inline file offer (1 MiB payload, base64-expanded twice by the inline
// field and the sealed envelope), which stays well under this.
const MaxFrameBytes = 8 << 20

// ErrFrameTooLarge marks a length prefix beyond MaxFrameBytes. The stream
// cannot be resynchronised past it, so callers drop the connection.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// Encode serialises v as JSON behind a 4-byte big-endian length prefix.
func Encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	if len(body) > MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// Decode extracts the first complete frame body from buf. When buf does not
// yet hold a full frame it returns (nil, buf, nil); callers append more
// received bytes and retry.
func Decode(buf []byte) (body, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, buf, nil
	}
	n := binary.BigEndian.Uint32(buf[:4])
	if n > MaxFrameBytes {
		return nil, nil, ErrFrameTooLarge
	}
	if uint32(len(buf)-4) < n {
		return nil, buf, nil
	}
	return buf[4 : 4+n], buf[4+n:], nil
}
