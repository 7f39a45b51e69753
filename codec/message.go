package codec

import (
	"bytes"
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// rebuild regenerates p's Data buffer from p.Children, recursively,
// bottom-up. A packet decoded off the wire holds its content's raw bytes in
// Data, entirely independent of the Children tree parsed alongside it for
// convenience; replacing a child wholesale (rewritebinddn) or appending one
// to a nested grandchild (yamloverlay) updates Children but leaves Data —
// and therefore Bytes() — pointing at the original content. Every packet
// with children gets its Data rebuilt from the current Children before
// Encode serializes the envelope, so a filter's mutation actually reaches
// the wire. Leaf packets are left alone: their Data already holds their own
// encoded value and has no Children to rebuild from.
func rebuild(p *ber.Packet) {
	if p == nil || len(p.Children) == 0 {
		return
	}
	buf := make([]byte, 0, 64)
	for _, child := range p.Children {
		rebuild(child)
		buf = append(buf, child.Bytes()...)
	}
	p.Data = bytes.NewBuffer(buf)
}

// Message is a decoded LDAP protocol data unit. The proxy treats Operation
// as an opaque BER tree for every operation kind it does not specifically
// inspect, and only reaches into the structurally-named fields it needs.
type Message struct {
	// MessageID is the client-assigned correlation id, wire field [0].
	MessageID uint64
	// Op is the application tag carried by the operation packet, wire
	// field [1]'s tag.
	Op ber.Tag
	// Operation is the application-tagged operation packet itself.
	Operation *ber.Packet
	// Controls is the optional controls sequence, wire field [2].
	Controls *ber.Packet
}

// Kind returns the human-readable operation name, used only for logging.
func (m *Message) Kind() string {
	return Name(m.Op)
}

// IsBindRequest reports whether m is a bindRequest. Bind exchanges are
// never cached, since credentials must always reach the real directory.
func (m *Message) IsBindRequest() bool { return m.Op == ApplicationBindRequest }

// IsSearchRequest reports whether m is a searchRequest.
func (m *Message) IsSearchRequest() bool { return m.Op == ApplicationSearchRequest }

// IsSearchResultEntry reports whether m is a searchResEntry.
func (m *Message) IsSearchResultEntry() bool { return m.Op == ApplicationSearchResultEntry }

// IsSearchResultReference reports whether m is a searchResRef, treated as a
// cacheable partial response identically to searchResEntry.
func (m *Message) IsSearchResultReference() bool { return m.Op == ApplicationSearchResultReference }

// IsSearchResultDone reports whether m is the terminal searchResDone.
func (m *Message) IsSearchResultDone() bool { return m.Op == ApplicationSearchResultDone }

// IsUnbindRequest reports whether m signals the client tearing down the
// session; the pair should close both sockets without expecting a reply.
func (m *Message) IsUnbindRequest() bool { return m.Op == ApplicationUnbindRequest }

// IsSearchResponse reports whether m is any of the three PDUs that make up
// a search response stream.
func (m *Message) IsSearchResponse() bool {
	return m.IsSearchResultEntry() || m.IsSearchResultReference() || m.IsSearchResultDone()
}

// ExtendedOID returns the requestName OID of an extendedReq, or "" if m is
// not an extendedReq or carries no OID. Grounded on the context-tag-0
// primitive child convention used throughout the pack's LDAP decoders.
func (m *Message) ExtendedOID() string {
	if m.Op != ApplicationExtendedRequest || len(m.Operation.Children) == 0 {
		return ""
	}
	oidChild := m.Operation.Children[0]
	if oidChild.ClassType != ber.ClassContext || oidChild.Tag != 0 {
		return ""
	}
	if oidChild.Data != nil {
		return oidChild.Data.String()
	}
	if s, ok := oidChild.Value.(string); ok {
		return s
	}
	return ""
}

// Decode parses a full LDAPMessage envelope out of packet, which must
// already have been read off the wire by ReadFrame.
func Decode(packet *ber.Packet) (*Message, error) {
	if packet == nil || len(packet.Children) < 2 {
		return nil, fmt.Errorf("%w: LDAPMessage needs messageID and protocolOp children", ErrMalformed)
	}

	msgID, err := messageIDOf(packet.Children[0])
	if err != nil {
		return nil, err
	}

	op := packet.Children[1]
	if op.ClassType != ber.ClassApplication {
		return nil, fmt.Errorf("%w: protocolOp is not application-tagged", ErrMalformed)
	}

	m := &Message{
		MessageID: msgID,
		Op:        op.Tag,
		Operation: op,
	}
	if len(packet.Children) > 2 {
		m.Controls = packet.Children[2]
	}
	return m, nil
}

// messageIDOf accepts either the int64 or uint64 representation asn1-ber may
// produce for a universal INTEGER, since the wire value is always
// non-negative for messageID.
func messageIDOf(p *ber.Packet) (uint64, error) {
	switch v := p.Value.(type) {
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("%w: negative messageID", ErrMalformed)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("%w: negative messageID", ErrMalformed)
		}
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("%w: messageID is not an integer", ErrMalformed)
	}
}

// Encode re-serializes m into a full LDAPMessage envelope, rewriting the
// messageID wire field to messageID. Re-encoding an unmodified Message with
// its original messageID must be byte-identical to the frame it was
// decoded from. Operation and Controls are rebuilt from their current
// Children first, so any filter mutation made after Decode is reflected in
// the bytes written to the wire rather than the stale content Decode saw.
func Encode(m *Message, messageID uint64) []byte {
	rebuild(m.Operation)
	rebuild(m.Controls)

	envelope := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAPMessage")
	envelope.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(messageID), "MessageID"))
	envelope.AppendChild(m.Operation)
	if m.Controls != nil {
		envelope.AppendChild(m.Controls)
	}
	return envelope.Bytes()
}
