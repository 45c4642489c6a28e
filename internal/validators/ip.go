package validators

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/orderguard/orderguard/internal/domain/decision"
	"github.com/orderguard/orderguard/internal/domain/model"
)

// IP reason codes.
const (
	IPInvalid     = "ip_invalid"
	IPPrivate     = "ip_private"
	IPLoopback    = "ip_loopback"
	IPReserved    = "ip_reserved"
	IPMulticast   = "ip_multicast"
	IPUnspecified = "ip_unspecified"
	IPProxy       = "ip_proxy"
	IPTor         = "ip_tor_exit"
	IPHosting     = "ip_hosting_provider"
	IPListed      = "ip_listed"
)

var ipReasons = map[string]string{
	IPInvalid:     "value is not an IPv4 or IPv6 address",
	IPPrivate:     "address is in a private range and cannot be a real client",
	IPLoopback:    "address is a loopback address",
	IPReserved:    "address is in a reserved or documentation range",
	IPMulticast:   "address is a multicast address",
	IPUnspecified: "address is unspecified",
	IPProxy:       "address is a known anonymising proxy or VPN",
	IPTor:         "address is a Tor exit node",
	IPHosting:     "address belongs to a hosting provider",
	IPListed:      "address appears on a reputation blocklist",
}

var reservedPrefixes = func() []netip.Prefix {
	raw := []string{
		"0.0.0.0/8", "100.64.0.0/10", "192.0.0.0/24", "192.0.2.0/24", "198.18.0.0/15",
		"198.51.100.0/24", "203.0.113.0/24", "240.0.0.0/4", "255.255.255.255/32",
		"2001:db8::/32", "100::/64",
	}
	out := make([]netip.Prefix, 0, len(raw))
	for _, r := range raw {
		out = append(out, netip.MustParsePrefix(r))
	}
	return out
}()

// IPReputation reports what an external intelligence source knows about an address.
type IPReputation struct {
	Proxy       bool
	Tor         bool
	Hosting     bool
	Blocklisted bool
}

// IPReputationSource looks up reputation for an address.
type IPReputationSource interface {
	Lookup(ctx context.Context, addr netip.Addr) (IPReputation, error)
}

// IPOptions configures the IP validator.
type IPOptions struct {
	Reputation IPReputationSource
}

// IPValidator classifies client addresses.
type IPValidator struct {
	reputation IPReputationSource
}

// NewIPValidator builds an IP validator.
func NewIPValidator(opts IPOptions) *IPValidator {
	return &IPValidator{reputation: opts.Reputation}
}

// Field implements decision.FieldValidator.
func (v *IPValidator) Field() model.FieldName { return model.FieldIP }

// Normalize parses the address, unmaps IPv4-in-IPv6 and drops zones.
func (v *IPValidator) Normalize(in model.FieldInput) (string, error) {
	raw := strings.Trim(strings.TrimSpace(in.Text), "[]")
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", decision.Malformed(IPInvalid, err.Error())
	}
	return addr.Unmap().WithZone("").String(), nil
}

// Score implements decision.FieldValidator.
func (v *IPValidator) Score(ctx context.Context, normalized string, _ decision.ValidationContext) (decision.Assessment, error) {
	addr, err := netip.ParseAddr(normalized)
	if err != nil {
		return decision.Assessment{}, fmt.Errorf("parse normalized ip: %w", err)
	}

	var f findings
	switch {
	case addr.IsUnspecified():
		f.flag(IPUnspecified, 0.7, true)
	case addr.IsLoopback():
		f.flag(IPLoopback, 0.7, true)
	case addr.IsPrivate():
		f.flag(IPPrivate, 0.5, true)
	case addr.IsMulticast():
		f.flag(IPMulticast, 0.7, true)
	case addr.IsLinkLocalUnicast():
		f.flag(IPReserved, 0.6, true)
	case isReserved(addr):
		f.flag(IPReserved, 0.6, true)
	}
	if f.invalid || v.reputation == nil {
		return f.assessment(0.8), nil
	}

	rep, err := v.reputation.Lookup(ctx, addr)
	if err != nil {
		return decision.Assessment{}, fmt.Errorf("ip reputation: %w", err)
	}
	if rep.Tor {
		f.flag(IPTor, 0.6, false)
	}
	if rep.Proxy {
		f.flag(IPProxy, 0.4, false)
	}
	if rep.Hosting {
		f.flag(IPHosting, 0.25, false)
	}
	if rep.Blocklisted {
		f.flag(IPListed, 0.7, false)
	}
	return f.assessment(0.95), nil
}

// Explain implements decision.FieldValidator.
func (v *IPValidator) Explain(code string) string { return explain(ipReasons, code) }

func isReserved(addr netip.Addr) bool {
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

var _ decision.FieldValidator = (*IPValidator)(nil)
