package names

import (
	"net/url"
	"strings"

	"github.com/yuxki/dytrust/pkg/certs"
	"golang.org/x/text/cases"
)

func fold(s string) string {
	return cases.Fold().String(s)
}

// Within reports whether name lies inside the subtree rooted at constraint.
// Names of different types never match.
func (e *Evaluator) Within(name, constraint certs.GeneralName) bool {
	if name.Type != constraint.Type {
		return false
	}

	if name.Type != certs.IPAddress && tooShort(name, constraint) {
		return false
	}

	switch name.Type {
	case certs.DirectoryName:
		return directoryWithin(name.DN, constraint.DN)
	case certs.DNSName:
		return dnsWithin(name.Value, constraint.Value)
	case certs.RFC822Name:
		return emailWithin(name.Value, constraint.Value)
	case certs.URI:
		return uriWithin(name.Value, constraint.Value)
	case certs.IPAddress:
		return ipWithin(name.Bytes, constraint.Bytes)
	}

	e.logger.Debug().
		Str("type", name.Type.String()).
		Str("name", name.Value).
		Msg("Name constraint compared by exact value.")

	return name.Value == constraint.Value
}

func tooShort(name, constraint certs.GeneralName) bool {
	if name.Type == certs.DirectoryName {
		return len(name.DN) < len(constraint.DN)
	}
	return len(name.Value) < len(constraint.Value)
}

// directoryWithin reports whether every attribute of constraint is present
// in name. Attribute order is not significant.
func directoryWithin(name, constraint certs.DistinguishedName) bool {
	counts := make(map[certs.Attribute]int, len(name))
	for _, a := range name {
		counts[a]++
	}
	for _, a := range constraint {
		if counts[a] == 0 {
			return false
		}
		counts[a]--
	}
	return true
}

// dnsWithin matches labels from the right. A leading period in the
// constraint requires at least one additional label.
func dnsWithin(name, constraint string) bool {
	name = strings.TrimSuffix(fold(name), ".")
	constraint = strings.TrimSuffix(fold(constraint), ".")

	if constraint == "" {
		return true
	}

	if strings.HasPrefix(constraint, ".") {
		return strings.HasSuffix(name, constraint) && len(name) > len(constraint)
	}

	if name == constraint {
		return true
	}
	return strings.HasSuffix(name, "."+constraint)
}

func splitMailbox(addr string) (string, string) {
	idx := strings.LastIndex(addr, "@")
	if idx < 0 {
		return "", addr
	}
	return addr[:idx], addr[idx+1:]
}

// emailWithin implements the rfc822Name forms of RFC 5280 4.2.1.10: a
// mailbox matches exactly, a host matches the domain part, a leading period
// matches subdomains and a leading "@" is a domain constraint.
func emailWithin(name, constraint string) bool {
	local, host := splitMailbox(name)
	host = fold(host)

	if strings.HasPrefix(constraint, "@") {
		return host == fold(constraint[1:])
	}

	if strings.Contains(constraint, "@") {
		cLocal, cHost := splitMailbox(constraint)
		return local == cLocal && host == fold(cHost)
	}

	constraint = fold(constraint)
	if strings.HasPrefix(constraint, ".") {
		return strings.HasSuffix(host, constraint) && len(host) > len(constraint)
	}
	return host == constraint
}

func uriWithin(name, constraint string) bool {
	u, err := url.Parse(name)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	return dnsWithin(host, constraint)
}

// ipWithin masks name with the mask half of constraint and compares it with
// the address half.
func ipWithin(name, constraint []byte) bool {
	if len(constraint) != 2*len(name) || len(name) == 0 {
		return false
	}

	addr, mask := constraint[:len(name)], constraint[len(name):]
	for i := range name {
		if name[i]&mask[i] != addr[i]&mask[i] {
			return false
		}
	}
	return true
}

// subtreeWithin reports whether subtree inner is contained in subtree outer.
func (e *Evaluator) subtreeWithin(inner, outer certs.GeneralName) bool {
	if inner.Type != outer.Type {
		return false
	}

	switch inner.Type {
	case certs.IPAddress:
		return ipSubtreeWithin(inner.Bytes, outer.Bytes)
	case certs.DNSName, certs.URI:
		return dnsWithin(strings.TrimPrefix(inner.Value, "."), outer.Value) ||
			fold(inner.Value) == fold(outer.Value)
	case certs.RFC822Name:
		return emailSubtreeWithin(inner.Value, outer.Value)
	}
	return e.Within(inner, outer)
}

func ipSubtreeWithin(inner, outer []byte) bool {
	if len(inner) != len(outer) || len(inner) == 0 {
		return false
	}
	half := len(inner) / 2
	for i := 0; i < half; i++ {
		// outer must be at most as specific as inner
		if outer[half+i]&^inner[half+i] != 0 {
			return false
		}
	}
	return ipWithin(inner[:half], outer)
}

func emailSubtreeWithin(inner, outer string) bool {
	if fold(inner) == fold(outer) {
		return true
	}

	switch {
	case strings.HasPrefix(inner, "@"):
		return emailWithin("x"+inner, outer)
	case strings.Contains(inner, "@"):
		return emailWithin(inner, outer)
	case strings.HasPrefix(inner, "."):
		return strings.HasPrefix(outer, ".") &&
			strings.HasSuffix(fold(inner), fold(outer))
	}
	return emailWithin("x@"+inner, outer)
}
