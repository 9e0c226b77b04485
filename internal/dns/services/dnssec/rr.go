package dnssec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/miekg/dns"

	"github.com/haukened/rr-dns/internal/dns/domain"
)

// unpackRR rebuilds a single on-wire resource record from a cache entry's
// owner/type/class/ttl plus its raw rdata, then hands it to miekg/dns to
// canonicalize into a typed RR (DS, DNSKEY, RRSIG). DNSSEC rdata never
// carries compressed names (RFC 4034 §3), so a synthetic single-record
// buffer with no prior compression context unpacks correctly.
func unpackRR(owner string, rrtype domain.RRType, class domain.RRClass, ttl uint32, rdata []byte) (dns.RR, error) {
	var buf bytes.Buffer
	if err := encodeOwnerName(&buf, owner); err != nil {
		return nil, err
	}
	_ = binary.Write(&buf, binary.BigEndian, uint16(rrtype))
	_ = binary.Write(&buf, binary.BigEndian, uint16(class))
	_ = binary.Write(&buf, binary.BigEndian, ttl)
	if len(rdata) > 65535 {
		return nil, fmt.Errorf("dnssec: rdata too large: %d bytes", len(rdata))
	}
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(rdata)))
	buf.Write(rdata)

	rr, _, err := dns.UnpackRR(buf.Bytes(), 0)
	if err != nil {
		return nil, fmt.Errorf("dnssec: unpack %s rdata: %w", rrtype, err)
	}
	return rr, nil
}

func encodeOwnerName(buf *bytes.Buffer, name string) error {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		buf.WriteByte(0)
		return nil
	}
	for _, label := range strings.Split(name, ".") {
		if len(label) > 63 {
			return fmt.Errorf("dnssec: label too long: %s", label)
		}
		buf.WriteByte(byte(len(label)))
		buf.WriteString(label)
	}
	buf.WriteByte(0)
	return nil
}

// asDS unpacks a DS record, ignoring any record that fails to parse rather
// than aborting the whole chain (a single malformed record from a dishonest
// or buggy upstream shouldn't take down validation of the rest).
func asDS(rr domain.ResourceRecord) (*dns.DS, bool) {
	unpacked, err := unpackRR(rr.Name, rr.Type, rr.Class, rr.TTL(), rr.Data)
	if err != nil {
		return nil, false
	}
	ds, ok := unpacked.(*dns.DS)
	return ds, ok
}

func asDNSKEY(rr domain.ResourceRecord) (*dns.DNSKEY, bool) {
	unpacked, err := unpackRR(rr.Name, rr.Type, rr.Class, rr.TTL(), rr.Data)
	if err != nil {
		return nil, false
	}
	key, ok := unpacked.(*dns.DNSKEY)
	return key, ok
}

func asRRSIG(rr domain.ResourceRecord) (*dns.RRSIG, bool) {
	unpacked, err := unpackRR(rr.Name, rr.Type, rr.Class, rr.TTL(), rr.Data)
	if err != nil {
		return nil, false
	}
	sig, ok := unpacked.(*dns.RRSIG)
	return sig, ok
}

// asRR unpacks an arbitrary answer record into the dns.RR miekg/dns needs to
// check a signature against, covering the algorithms §4.5 supports (8, 13,
// 15) plus whatever RRSIG.Verify rejects as unsupported on its own.
func asRR(rr domain.ResourceRecord) (dns.RR, bool) {
	unpacked, err := unpackRR(rr.Name, rr.Type, rr.Class, rr.TTL(), rr.Data)
	if err != nil {
		return nil, false
	}
	return unpacked, true
}
