// Package rewritebinddn is a reference in-filter: it rewrites an
// email-shaped bind DN (cn=user@dom.tld) into an RDN/domain-component DN
// (uid=user,dc=dom,dc=tld) before the bindRequest reaches upstream.
package rewritebinddn

import (
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"

	"github.com/achetronic/ldapdoxy/codec"
	"github.com/achetronic/ldapdoxy/filter"
)

const name = "rewritebinddn"

func init() {
	filter.RegisterIn(name, func() interface{} { return &Filter{} })
}

// Filter holds no per-connection state; every bindRequest is rewritten the
// same way regardless of which pair it arrived on.
type Filter struct{}

// Filter rewrites msg.Operation's bind DN (child 0 is version, child 1 is
// name) in place when it matches the cn=user@domain.tld shape. Any other
// bind DN, or any non-bindRequest message, passes through unchanged.
func (f *Filter) Filter(_ *filter.Params, msg *codec.Message) error {
	if !msg.IsBindRequest() || len(msg.Operation.Children) < 2 {
		return nil
	}

	nameChild := msg.Operation.Children[1]
	dn, ok := nameChild.Value.(string)
	if !ok {
		return nil
	}

	rewritten, ok := rewrite(dn)
	if !ok {
		return nil
	}

	// Replace the child wholesale rather than mutating its buffers in
	// place, so the packet's internal encoding stays self-consistent.
	msg.Operation.Children[1] = ber.NewString(
		nameChild.ClassType, nameChild.TagType, nameChild.Tag, rewritten, nameChild.Description,
	)
	return nil
}

// rewrite converts "cn=user@dom.tld" into "uid=user,dc=dom,dc=tld". It
// returns ok=false for any DN that doesn't match that exact shape, leaving
// ordinary DN binds untouched.
func rewrite(dn string) (string, bool) {
	const prefix = "cn="
	if !strings.HasPrefix(dn, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(dn, prefix)

	at := strings.IndexByte(rest, '@')
	if at < 0 {
		return "", false
	}
	user := rest[:at]
	domain := rest[at+1:]
	if user == "" || domain == "" {
		return "", false
	}

	labels := strings.Split(domain, ".")
	for _, l := range labels {
		if l == "" {
			return "", false
		}
	}

	var b strings.Builder
	b.WriteString("uid=")
	b.WriteString(user)
	for _, l := range labels {
		b.WriteString(",dc=")
		b.WriteString(l)
	}
	return b.String(), true
}
