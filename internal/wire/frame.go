// Package wire implements the framed session protocol spoken to the venue gateway.
//
// Frames are self-delimiting: a 4-byte big-endian length prefix followed by
// that many bytes of payload. A payload is a sequence of NUL-terminated ASCII
// fields; the first field carries the numeric message type.
package wire

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/halyard-io/halyard/errs"
)

// HeaderLen is the byte length of the frame size prefix.
const HeaderLen = 4

// Magic is written once by the client before the handshake frame.
const Magic = "HLY\x00"

// Protocol versions the client can negotiate.
const (
	MinVersion = 100
	MaxVersion = 110
)

// ReadFrame extracts the first complete frame from buf. It returns the frame
// payload (without the length prefix) and the remaining unconsumed bytes.
// When buf does not yet hold a complete frame it returns a nil frame and buf
// unchanged; callers accumulate more bytes and retry.
func ReadFrame(buf []byte) (frame []byte, rest []byte) {
	if len(buf) < HeaderLen {
		return nil, buf
	}
	size := int(binary.BigEndian.Uint32(buf[:HeaderLen]))
	if len(buf) < HeaderLen+size {
		return nil, buf
	}
	frame = buf[HeaderLen : HeaderLen+size]
	rest = buf[HeaderLen+size:]
	return frame, rest
}

// PeekSize reports the declared payload size of the frame at the head of buf,
// or -1 when the prefix is not yet complete. It lets the reader enforce a
// maximum frame size before the full payload arrives.
func PeekSize(buf []byte) int {
	if len(buf) < HeaderLen {
		return -1
	}
	return int(binary.BigEndian.Uint32(buf[:HeaderLen]))
}

// EncodeFrame serialises the fields into a length-prefixed payload.
func EncodeFrame(fields ...string) []byte {
	size := 0
	for _, f := range fields {
		size += len(f) + 1
	}
	out := make([]byte, HeaderLen, HeaderLen+size)
	binary.BigEndian.PutUint32(out, uint32(size))
	for _, f := range fields {
		out = append(out, f...)
		out = append(out, 0)
	}
	return out
}

// Fields splits a frame payload into its NUL-terminated fields.
func Fields(frame []byte) []string {
	if len(frame) == 0 {
		return nil
	}
	parts := strings.Split(string(frame), "\x00")
	// A well-formed payload ends with a terminator, leaving one empty tail.
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

// EncodeHandshake builds the version negotiation payload sent after Magic.
func EncodeHandshake() []byte {
	return EncodeFrame("v" + strconv.Itoa(MinVersion) + ".." + strconv.Itoa(MaxVersion))
}

// HandshakeReply carries the gateway's negotiation response.
type HandshakeReply struct {
	ServerVersion int
	SessionTime   string
}

// ParseHandshakeReply decodes the gateway's handshake frame.
func ParseHandshakeReply(frame []byte) (HandshakeReply, error) {
	fields := Fields(frame)
	if len(fields) < 2 {
		return HandshakeReply{}, errs.New("", errs.CodeHandshake, errs.WithMessage("handshake reply needs version and session time"))
	}
	version, err := strconv.Atoi(fields[0])
	if err != nil {
		return HandshakeReply{}, errs.New("", errs.CodeHandshake, errs.WithMessage("malformed server version"), errs.WithCause(err))
	}
	if version < MinVersion || version > MaxVersion {
		return HandshakeReply{}, errs.New("", errs.CodeHandshake,
			errs.WithMessage("server version "+fields[0]+" outside supported range"))
	}
	return HandshakeReply{ServerVersion: version, SessionTime: fields[1]}, nil
}
