// Package codec decodes and re-encodes LDAP v3 protocol data units at the
// BER level, preserving unmodified messages byte-for-byte on round-trip.
package codec

import ber "github.com/go-asn1-ber/asn1-ber"

// LDAP application tags, per the ASN.1 module in RFC 4511.
const (
	ApplicationBindRequest           ber.Tag = 0
	ApplicationBindResponse          ber.Tag = 1
	ApplicationUnbindRequest         ber.Tag = 2
	ApplicationSearchRequest         ber.Tag = 3
	ApplicationSearchResultEntry     ber.Tag = 4
	ApplicationSearchResultDone      ber.Tag = 5
	ApplicationModifyRequest         ber.Tag = 6
	ApplicationModifyResponse        ber.Tag = 7
	ApplicationAddRequest            ber.Tag = 8
	ApplicationAddResponse           ber.Tag = 9
	ApplicationDelRequest            ber.Tag = 10
	ApplicationDelResponse           ber.Tag = 11
	ApplicationModifyDNRequest       ber.Tag = 12
	ApplicationModifyDNResponse      ber.Tag = 13
	ApplicationCompareRequest        ber.Tag = 14
	ApplicationCompareResponse       ber.Tag = 15
	ApplicationAbandonRequest        ber.Tag = 16
	ApplicationSearchResultReference ber.Tag = 19
	ApplicationExtendedRequest       ber.Tag = 23
	ApplicationExtendedResponse      ber.Tag = 24
)

// applicationNames maps application tags to their protocol names, used only
// for log messages.
var applicationNames = map[ber.Tag]string{
	ApplicationBindRequest:           "bindRequest",
	ApplicationBindResponse:          "bindResponse",
	ApplicationUnbindRequest:         "unbindRequest",
	ApplicationSearchRequest:         "searchRequest",
	ApplicationSearchResultEntry:     "searchResEntry",
	ApplicationSearchResultDone:      "searchResDone",
	ApplicationModifyRequest:         "modifyRequest",
	ApplicationModifyResponse:        "modifyResponse",
	ApplicationAddRequest:            "addRequest",
	ApplicationAddResponse:           "addResponse",
	ApplicationDelRequest:            "delRequest",
	ApplicationDelResponse:           "delResponse",
	ApplicationModifyDNRequest:       "modifyDNRequest",
	ApplicationModifyDNResponse:      "modifyDNResponse",
	ApplicationCompareRequest:        "compareRequest",
	ApplicationCompareResponse:       "compareResponse",
	ApplicationAbandonRequest:        "abandonRequest",
	ApplicationSearchResultReference: "searchResRef",
	ApplicationExtendedRequest:       "extendedReq",
	ApplicationExtendedResponse:      "extendedResp",
}

// Name returns the human-readable protocol operation name for tag, or the
// generic "response" for tags this proxy does not specifically name.
func Name(tag ber.Tag) string {
	if n, ok := applicationNames[tag]; ok {
		return n
	}
	return "response"
}

// StartTLSOID is the LDAP extended operation OID for StartTLS, which this
// proxy rejects rather than negotiating.
const StartTLSOID = "1.3.6.1.4.1.1466.20037"
