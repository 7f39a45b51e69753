// Package yamloverlay is a reference out-filter: it augments each
// searchResEntry with attributes loaded from DN-keyed and
// attribute/value-keyed YAML side files.
package yamloverlay

import (
	"fmt"
	"os"
	"regexp"

	"github.com/allegro/bigcache/v3"
	ber "github.com/go-asn1-ber/asn1-ber"
	"gopkg.in/yaml.v3"

	"github.com/achetronic/ldapdoxy/codec"
	"github.com/achetronic/ldapdoxy/filter"
)

const name = "yamloverlay"

func init() {
	filter.RegisterOut(name, func() interface{} { return &Filter{} })
}

// sanitizePattern matches every run of characters outside [A-Za-z0-9_-].
var sanitizePattern = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

const maxCandidateLength = 64

// sanitize replaces every run of disallowed characters with a single
// underscore and truncates to 64 octets, keeping overlay filenames safe
// and bounded regardless of what a matched attribute value contains.
func sanitize(s string) string {
	out := sanitizePattern.ReplaceAllString(s, "_")
	if len(out) > maxCandidateLength {
		out = out[:maxCandidateLength]
	}
	return out
}

// Filter reads YAML overlay files through its own bigcache scratch cache
// (Params.LocalCache), so operators editing files live see the change once
// the cache entry expires rather than on the very next lookup.
type Filter struct {
	// Dir is <yaml_dir>: the root directory candidate files are resolved
	// against.
	Dir string
	// Prefix is <overlay_prefix>, prepended to every injected attribute
	// name.
	Prefix string
}

// New builds a yamloverlay filter reading from dir with the given attribute
// name prefix. Config wiring passes this via a closure registered as the
// filter's Factory.
func New(dir, prefix string) *Filter {
	return &Filter{Dir: dir, Prefix: prefix}
}

// Filter implements filter.Out. It only acts on searchResEntry PDUs;
// searchResDone and non-search responses pass through untouched.
func (f *Filter) Filter(params *filter.Params, msg *codec.Message) error {
	if !msg.IsSearchResultEntry() || f.Dir == "" {
		return nil
	}
	if len(msg.Operation.Children) < 2 {
		return nil
	}

	dn, ok := msg.Operation.Children[0].Value.(string)
	if !ok {
		return nil
	}
	attrsPacket := msg.Operation.Children[1]

	candidates := f.candidates(dn, attrsPacket)

	var localCache *bigcache.BigCache
	if params != nil {
		localCache = params.LocalCache
	}

	for _, candidate := range candidates {
		overlay, err := f.load(localCache, candidate)
		if err != nil {
			continue // missing or malformed overlay file: skip it
		}
		for attrType, vals := range overlay {
			attrsPacket.AppendChild(newAttribute(f.Prefix+attrType, vals))
		}
	}
	return nil
}

// candidates builds the DN itself plus one "type/sanitize(val)" string per
// attribute value already present on the entry, in the order they appear.
func (f *Filter) candidates(dn string, attrsPacket *ber.Packet) []string {
	candidates := []string{dn}

	for _, attrPacket := range attrsPacket.Children {
		if len(attrPacket.Children) < 2 {
			continue
		}
		attrType, ok := attrPacket.Children[0].Value.(string)
		if !ok {
			continue
		}
		for _, valPacket := range attrPacket.Children[1].Children {
			val, ok := valPacket.Value.(string)
			if !ok {
				continue
			}
			candidates = append(candidates, attrType+"/"+sanitize(val))
		}
	}
	return candidates
}

// load reads <yaml_dir>/<candidate>.yaml as a mapping from attribute name
// to a scalar or sequence of strings, serving the raw bytes from localCache
// when present rather than hitting disk again for every matched entry.
func (f *Filter) load(localCache *bigcache.BigCache, candidate string) (map[string][]string, error) {
	raw, err := f.readCached(localCache, candidate)
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(doc))
	for k, v := range doc {
		out[k] = toStringSlice(v)
	}
	return out, nil
}

// readCached mirrors predoxy's use-cache plugin: a Get before touching the
// disk, a Set afterward so the next matching entry skips the read.
func (f *Filter) readCached(localCache *bigcache.BigCache, candidate string) ([]byte, error) {
	if localCache != nil {
		if cached, err := localCache.Get(candidate); err == nil {
			return cached, nil
		}
	}

	path := f.Dir + string(os.PathSeparator) + candidate + ".yaml"
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if localCache != nil {
		_ = localCache.Set(candidate, raw)
	}
	return raw, nil
}

// toStringSlice wraps a scalar into a single-element slice.
func toStringSlice(v interface{}) []string {
	switch val := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, toString(item))
		}
		return out
	default:
		return []string{toString(val)}
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// newAttribute builds a PartialAttribute SEQUENCE { type, SET OF values }.
func newAttribute(attrType string, vals []string) *ber.Packet {
	attr := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "PartialAttribute")
	attr.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, attrType, "type"))

	valueSet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSet, nil, "vals")
	for _, v := range vals {
		valueSet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, v, "value"))
	}
	attr.AppendChild(valueSet)
	return attr
}
