// Package validators provides the stock field validators used by the decision engine.
package validators

import (
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/orderguard/orderguard/internal/domain/decision"
)

// findings accumulates reason codes and risk while a validator scores a value.
type findings struct {
	codes   []string
	risk    float64
	invalid bool
}

// flag records a reason code, adds its risk weight and optionally marks the value invalid.
func (f *findings) flag(code string, risk float64, invalidates bool) {
	f.codes = append(f.codes, code)
	f.risk += risk
	if invalidates {
		f.invalid = true
	}
}

func (f *findings) assessment(confidence float64) decision.Assessment {
	risk := f.risk
	if risk > 1 {
		risk = 1
	}
	return decision.Assessment{
		Valid:       !f.invalid,
		Confidence:  confidence,
		RiskScore:   risk,
		ReasonCodes: f.codes,
	}
}

// explain looks up a reason code description, falling back to the code itself.
func explain(table map[string]string, code string) string {
	if d, ok := table[code]; ok {
		return d
	}
	return code
}

// DomainSet matches domains exactly or by registrable domain (eTLD+1),
// so "mail.tempbox.net" matches an entry of "tempbox.net".
type DomainSet struct {
	entries map[string]struct{}
}

// NewDomainSet builds a set from domains, ignoring blanks and case.
func NewDomainSet(domains ...string) *DomainSet {
	s := &DomainSet{entries: make(map[string]struct{}, len(domains))}
	for _, d := range domains {
		if d = normalizeDomain(d); d != "" {
			s.entries[d] = struct{}{}
		}
	}
	return s
}

// Contains reports whether domain or its registrable domain is in the set.
func (s *DomainSet) Contains(domain string) bool {
	if s == nil || len(s.entries) == 0 {
		return false
	}
	domain = normalizeDomain(domain)
	if domain == "" {
		return false
	}
	if _, ok := s.entries[domain]; ok {
		return true
	}
	if etld1 := registrableDomain(domain); etld1 != "" {
		_, ok := s.entries[etld1]
		return ok
	}
	return false
}

// Len returns the number of entries.
func (s *DomainSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

func normalizeDomain(d string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
}

// registrableDomain extracts the eTLD+1 using the public suffix list.
func registrableDomain(domain string) string {
	etld1, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return ""
	}
	return etld1
}
