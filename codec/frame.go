package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// Frame errors, classifying what ReadFrame saw on the wire.
var (
	// ErrClosed is returned when the peer closes cleanly at a message
	// boundary — no bytes of a new frame were read.
	ErrClosed = errors.New("ldapdoxy: connection closed")
	// ErrTruncated is returned when the peer closes mid-frame.
	ErrTruncated = errors.New("ldapdoxy: frame truncated")
	// ErrMalformed is returned for an invalid BER length encoding or an
	// LDAPMessage envelope that doesn't have the required shape.
	ErrMalformed = errors.New("ldapdoxy: malformed frame")
)

// ReadFrame reads exactly one BER-framed LDAPMessage off r, honoring
// short-form and long-form length encoding and coalescing across as many
// underlying Read calls as it takes to drain the frame. The historical bug
// this proxy must not repeat is returning early on a short read for a large
// server reply; asn1-ber.ReadPacket already drains by "bytes remaining" via
// io.ReadFull rather than by read-call count, so this function is a thin,
// error-classifying wrapper around it rather than a hand-rolled reader. It
// reads the tag byte itself so that a clean close at a message boundary can
// be told apart from a truncated frame, since ReadPacket reports both as
// io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (*ber.Packet, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		if errors.Is(err, io.EOF) {
			// Clean EOF at a message boundary: no tag byte was ever read.
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	packet, err := ber.ReadPacket(io.MultiReader(bytes.NewReader(tag[:]), r))
	if err == nil {
		return packet, nil
	}

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// The peer closed after the tag/length but before the frame's
		// content octets were fully drained.
		return nil, ErrTruncated
	default:
		// Invalid length encoding (e.g. an indefinite-length or
		// oversized-length field) surfaces as a plain decode error.
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
