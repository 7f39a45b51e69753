package codec

import (
	"bytes"
	"io"
	"testing"

	ber "github.com/go-asn1-ber/asn1-ber"
)

func newBindRequest(id int64, name string) *ber.Packet {
	envelope := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAPMessage")
	envelope.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, id, "MessageID"))

	bindReq := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ApplicationBindRequest, nil, "BindRequest")
	bindReq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(3), "Version"))
	bindReq.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, name, "Name"))
	bindReq.AppendChild(ber.Encode(ber.ClassContext, ber.TypePrimitive, 0, "", "simple"))
	envelope.AppendChild(bindReq)

	return envelope
}

func TestReadFrameThenDecodeRoundTrip(t *testing.T) {
	original := newBindRequest(1, "cn=alice@corp.example")
	wire := original.Bytes()

	packet, err := ReadFrame(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	msg, err := Decode(packet)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !msg.IsBindRequest() {
		t.Fatalf("expected bindRequest, got %s", msg.Kind())
	}
	if msg.MessageID != 1 {
		t.Fatalf("MessageID = %d, want 1", msg.MessageID)
	}

	reEncoded := Encode(msg, msg.MessageID)
	if !bytes.Equal(reEncoded, wire) {
		t.Fatalf("round-trip law violated:\norig=% x\nreenc=% x", wire, reEncoded)
	}
}

func TestEncodeRewritesMessageID(t *testing.T) {
	packet, err := ReadFrame(bytes.NewReader(newBindRequest(7, "cn=bob").Bytes()))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	msg, err := Decode(packet)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	rewritten := Encode(msg, 99)
	replayed, err := ReadFrame(bytes.NewReader(rewritten))
	if err != nil {
		t.Fatalf("ReadFrame(rewritten): %v", err)
	}
	replayedMsg, err := Decode(replayed)
	if err != nil {
		t.Fatalf("Decode(rewritten): %v", err)
	}
	if replayedMsg.MessageID != 99 {
		t.Fatalf("MessageID = %d, want 99", replayedMsg.MessageID)
	}
}

func TestEncodeReflectsChildMutationAfterDecode(t *testing.T) {
	packet, err := ReadFrame(bytes.NewReader(newBindRequest(3, "cn=alice").Bytes()))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	msg, err := Decode(packet)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	nameChild := msg.Operation.Children[1]
	msg.Operation.Children[1] = ber.NewString(
		nameChild.ClassType, nameChild.TagType, nameChild.Tag, "cn=bob", nameChild.Description,
	)

	wire := Encode(msg, msg.MessageID)
	replayed, err := ReadFrame(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("ReadFrame(rewritten): %v", err)
	}
	replayedMsg, err := Decode(replayed)
	if err != nil {
		t.Fatalf("Decode(rewritten): %v", err)
	}

	got := replayedMsg.Operation.Children[1].Value.(string)
	if got != "cn=bob" {
		t.Fatalf("child replacement did not survive re-encode: got %q, want %q", got, "cn=bob")
	}
}

func TestEncodeReflectsGrandchildAppendAfterDecode(t *testing.T) {
	envelope := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAPMessage")
	envelope.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(4), "MessageID"))
	entry := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ApplicationSearchResultEntry, nil, "SearchResultEntry")
	entry.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "uid=alice,dc=x", "objectName"))
	attrs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "attributes")
	entry.AppendChild(attrs)
	envelope.AppendChild(entry)

	packet, err := ReadFrame(bytes.NewReader(envelope.Bytes()))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	msg, err := Decode(packet)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	attrsPacket := msg.Operation.Children[1]
	attr := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "PartialAttribute")
	attr.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "title", "type"))
	attrsPacket.AppendChild(attr)

	wire := Encode(msg, msg.MessageID)
	replayed, err := ReadFrame(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("ReadFrame(rewritten): %v", err)
	}
	replayedMsg, err := Decode(replayed)
	if err != nil {
		t.Fatalf("Decode(rewritten): %v", err)
	}

	replayedAttrs := replayedMsg.Operation.Children[1]
	if len(replayedAttrs.Children) != 1 {
		t.Fatalf("appended attribute did not survive re-encode: got %d children, want 1", len(replayedAttrs.Children))
	}
	got := replayedAttrs.Children[0].Children[0].Value.(string)
	if got != "title" {
		t.Fatalf("attribute type = %q, want %q", got, "title")
	}
}

func TestReadFrameClosedAtBoundary(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	if err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestReadFrameTruncatedMidFrame(t *testing.T) {
	wire := newBindRequest(1, "cn=alice").Bytes()
	_, err := ReadFrame(bytes.NewReader(wire[:len(wire)-5]))
	if err != ErrTruncated {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

// shortReader forces ReadFrame to coalesce across many small reads, as a
// large upstream reply arriving in pieces would, guarding against
// prematurely returning a truncated frame.
type shortReader struct {
	data []byte
	pos  int
}

func (s *shortReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p[:1], s.data[s.pos:s.pos+1])
	s.pos += n
	return n, nil
}

func TestReadFrameLargeEntryAcrossShortReads(t *testing.T) {
	envelope := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAPMessage")
	envelope.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(5), "MessageID"))
	entry := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ApplicationSearchResultEntry, nil, "SearchResultEntry")
	entry.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "uid=bob,dc=x", "objectName"))
	big := bytes.Repeat([]byte("A"), 64*1024)
	entry.AppendChild(ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(big), "blob"))
	envelope.AppendChild(entry)

	wire := envelope.Bytes()
	packet, err := ReadFrame(&shortReader{data: wire})
	if err != nil {
		t.Fatalf("ReadFrame over short reads: %v", err)
	}
	if !bytes.Equal(packet.Bytes(), wire) {
		t.Fatalf("reassembled frame does not match original")
	}
}
