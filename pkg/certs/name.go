package certs

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// GeneralNameType is the CHOICE tag of a GeneralName.
// (https://www.rfc-editor.org/rfc/rfc5280#section-4.2.1.6)
type GeneralNameType int

const (
	OtherName GeneralNameType = iota
	RFC822Name
	DNSName
	X400Address
	DirectoryName
	EDIPartyName
	URI
	IPAddress
	RegisteredID
)

var generalNameTypeStrings = [...]string{
	"otherName",
	"rfc822Name",
	"dNSName",
	"x400Address",
	"directoryName",
	"ediPartyName",
	"uniformResourceIdentifier",
	"iPAddress",
	"registeredID",
}

func (t GeneralNameType) String() string {
	if t < OtherName || t > RegisteredID {
		return fmt.Sprintf("GeneralNameType(%d)", int(t))
	}
	return generalNameTypeStrings[t]
}

// Attribute is one AttributeTypeAndValue of a distinguished name.
type Attribute struct {
	Type  string
	Value string
}

// OIDEmailAddress is the legacy PKCS#9 emailAddress attribute.
const OIDEmailAddress = "1.2.840.113549.1.9.1"

// DistinguishedName is a flattened RDNSequence in encoding order.
type DistinguishedName []Attribute

// NewDistinguishedName flattens a pkix.Name. Values are NFC normalised.
func NewDistinguishedName(name pkix.Name) DistinguishedName {
	dn := make(DistinguishedName, 0, len(name.Names))
	for _, atv := range name.Names {
		dn = append(dn, Attribute{
			Type:  atv.Type.String(),
			Value: norm.NFC.String(fmt.Sprint(atv.Value)),
		})
	}
	return dn
}

// ParseDistinguishedName decodes a DER encoded Name.
func ParseDistinguishedName(der []byte) (DistinguishedName, error) {
	var rdns pkix.RDNSequence
	rest, err := asn1.Unmarshal(der, &rdns)
	if err != nil {
		return nil, fmt.Errorf("failed to parse distinguished name: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("failed to parse distinguished name: trailing data")
	}

	var name pkix.Name
	name.FillFromRDNSequence(&rdns)

	return NewDistinguishedName(name), nil
}

// Values returns every value of the attribute type oid.
func (dn DistinguishedName) Values(oid string) []string {
	var vals []string
	for _, a := range dn {
		if a.Type == oid {
			vals = append(vals, a.Value)
		}
	}
	return vals
}

// Equal reports whether both names hold the same attributes in the same order.
func (dn DistinguishedName) Equal(other DistinguishedName) bool {
	if len(dn) != len(other) {
		return false
	}
	for i := range dn {
		if dn[i] != other[i] {
			return false
		}
	}
	return true
}

func (dn DistinguishedName) String() string {
	parts := make([]string, 0, len(dn))
	for _, a := range dn {
		parts = append(parts, a.Type+"="+a.Value)
	}
	return strings.Join(parts, ",")
}

// GeneralName is a typed name value. Value holds the textual form; Bytes
// holds the raw octets of iPAddress names (address, or address||mask inside
// name constraints) and DN the parsed directoryName.
type GeneralName struct {
	Type  GeneralNameType
	Value string
	Bytes []byte
	DN    DistinguishedName
}

// NewDirectoryName wraps a distinguished name.
func NewDirectoryName(dn DistinguishedName) GeneralName {
	return GeneralName{Type: DirectoryName, Value: dn.String(), DN: dn}
}

// NewIPName wraps an address, or an address||mask pair for name constraints.
func NewIPName(b []byte) GeneralName {
	gn := GeneralName{Type: IPAddress, Bytes: append([]byte(nil), b...)}
	switch len(b) {
	case net.IPv4len, net.IPv6len:
		gn.Value = net.IP(b).String()
	case 2 * net.IPv4len, 2 * net.IPv6len:
		half := len(b) / 2
		ones, _ := net.IPMask(b[half:]).Size()
		gn.Value = fmt.Sprintf("%s/%d", net.IP(b[:half]).String(), ones)
	default:
		gn.Value = fmt.Sprintf("%x", b)
	}
	return gn
}

// NewIPNetName builds an iPAddress constraint from a CIDR block.
func NewIPNetName(n *net.IPNet) GeneralName {
	ip := n.IP
	if v4 := ip.To4(); v4 != nil && len(n.Mask) == net.IPv4len {
		ip = v4
	}
	return NewIPName(append(append([]byte(nil), ip...), n.Mask...))
}

func (g GeneralName) String() string {
	return g.Type.String() + ":" + g.Value
}
