package yamloverlay

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/allegro/bigcache/v3"
	ber "github.com/go-asn1-ber/asn1-ber"

	"github.com/achetronic/ldapdoxy/codec"
	"github.com/achetronic/ldapdoxy/filter"
)

func searchResultEntry(dn string, attrType, attrValue string) *codec.Message {
	entry := ber.Encode(ber.ClassApplication, ber.TypeConstructed, codec.ApplicationSearchResultEntry, nil, "SearchResultEntry")
	entry.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, dn, "objectName"))

	attrs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "attributes")
	attr := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "PartialAttribute")
	attr.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, attrType, "type"))
	valueSet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSet, nil, "vals")
	valueSet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, attrValue, "value"))
	attr.AppendChild(valueSet)
	attrs.AppendChild(attr)
	entry.AppendChild(attrs)

	return &codec.Message{Op: codec.ApplicationSearchResultEntry, Operation: entry}
}

func attributeNames(entry *ber.Packet) []string {
	var names []string
	for _, attr := range entry.Children[1].Children {
		names = append(names, attr.Children[0].Value.(string))
	}
	return names
}

func TestFilterInjectsAttributesFromDNOverlay(t *testing.T) {
	dir := t.TempDir()
	dn := "uid=alice,ou=people,dc=example,dc=com"
	writeYAML(t, dir, dn+".yaml", "department: engineering\n")

	msg := searchResultEntry(dn, "cn", "alice")
	f := New(dir, "overlay_")
	if err := f.Filter(nil, msg); err != nil {
		t.Fatalf("Filter: %v", err)
	}

	names := attributeNames(msg.Operation)
	if !contains(names, "overlay_department") {
		t.Fatalf("expected overlay_department in %v", names)
	}
}

func TestFilterInjectsAttributesFromValueOverlay(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "cn/alice.yaml", "title: Engineer\n")

	msg := searchResultEntry("uid=alice,dc=example,dc=com", "cn", "alice")
	f := New(dir, "")
	if err := f.Filter(nil, msg); err != nil {
		t.Fatalf("Filter: %v", err)
	}

	names := attributeNames(msg.Operation)
	if !contains(names, "title") {
		t.Fatalf("expected title in %v", names)
	}
}

func TestFilterInjectedAttributeSurvivesWireRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dn := "uid=alice,ou=people,dc=example,dc=com"
	writeYAML(t, dir, "cn/alice.yaml", "title: Engineer\n")

	msg := searchResultEntry(dn, "cn", "alice")
	msg.MessageID = 9
	f := New(dir, "")
	if err := f.Filter(nil, msg); err != nil {
		t.Fatalf("Filter: %v", err)
	}

	wire := codec.Encode(msg, msg.MessageID)
	packet, err := codec.ReadFrame(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	decoded, err := codec.Decode(packet)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	names := attributeNames(decoded.Operation)
	if !contains(names, "title") {
		t.Fatalf("injected attribute did not survive the wire: got %v", names)
	}
}

func TestFilterSkipsWhenNoOverlayFileMatches(t *testing.T) {
	dir := t.TempDir()
	msg := searchResultEntry("uid=bob,dc=example,dc=com", "cn", "bob")

	before := len(msg.Operation.Children[1].Children)
	f := New(dir, "")
	if err := f.Filter(nil, msg); err != nil {
		t.Fatalf("Filter: %v", err)
	}
	after := len(msg.Operation.Children[1].Children)
	if before != after {
		t.Fatalf("expected no attributes added, went from %d to %d", before, after)
	}
}

func TestFilterServesOverlayFromLocalCacheOnceFileIsGone(t *testing.T) {
	dir := t.TempDir()
	dn := "uid=carol,ou=people,dc=example,dc=com"
	path := filepath.Join(dir, dn+".yaml")
	writeYAML(t, dir, dn+".yaml", "department: sales\n")

	localCache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(time.Minute))
	if err != nil {
		t.Fatalf("bigcache.New: %v", err)
	}
	params := &filter.Params{LocalCache: localCache}

	f := New(dir, "overlay_")

	first := searchResultEntry(dn, "cn", "carol")
	if err := f.Filter(params, first); err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if !contains(attributeNames(first.Operation), "overlay_department") {
		t.Fatalf("expected overlay_department on first lookup")
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("removing overlay fixture: %v", err)
	}

	second := searchResultEntry(dn, "cn", "carol")
	if err := f.Filter(params, second); err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if !contains(attributeNames(second.Operation), "overlay_department") {
		t.Fatalf("expected overlay_department served from local cache after file removal")
	}
}

func TestFilterIgnoresNonSearchResultEntry(t *testing.T) {
	msg := &codec.Message{Op: codec.ApplicationSearchResultDone}
	f := New(t.TempDir(), "")
	if err := f.Filter(nil, msg); err != nil {
		t.Fatalf("Filter: %v", err)
	}
}

func TestSanitizeReplacesDisallowedCharsAndTruncates(t *testing.T) {
	got := sanitize("uid=alice,ou=people,ou=engineering,ou=departments,dc=example,dc=com")
	if len(got) > maxCandidateLength {
		t.Fatalf("sanitize did not truncate: len=%d", len(got))
	}
	for _, r := range got {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-') {
			t.Fatalf("unexpected character %q in sanitized output %q", r, got)
		}
	}
}

func writeYAML(t *testing.T, dir, relPath, contents string) {
	t.Helper()
	full := filepath.Join(dir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("creating fixture dir for %s: %v", full, err)
	}
	if err := os.WriteFile(full, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture %s: %v", full, err)
	}
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
