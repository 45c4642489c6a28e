package validators

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"strings"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/orderguard/orderguard/internal/domain/decision"
	"github.com/orderguard/orderguard/internal/domain/model"
)

// Email reason codes.
const (
	EmailInvalidSyntax      = "email_invalid_syntax"
	EmailInvalidDomain      = "email_invalid_domain"
	EmailDisposableDomain   = "email_disposable_domain"
	EmailFreeProvider       = "email_free_provider"
	EmailRoleAccount        = "email_role_account"
	EmailNoMX               = "email_no_mx"
	EmailLookupFailed       = "email_lookup_failed"
	EmailUnlistedTLD        = "email_unlisted_tld"
	defaultMXLookupBurst    = 5
	emailConfidenceNoLookup = 0.85
	emailConfidenceLookup   = 0.97
)

var emailReasons = map[string]string{
	EmailInvalidSyntax:    "address is not a valid RFC 5322 mailbox",
	EmailInvalidDomain:    "domain has no registrable part",
	EmailDisposableDomain: "domain belongs to a disposable mailbox provider",
	EmailFreeProvider:     "domain is a free consumer mailbox provider",
	EmailRoleAccount:      "local part is a shared role account",
	EmailNoMX:             "domain publishes no mail exchanger",
	EmailLookupFailed:     "mail exchanger lookup failed",
	EmailUnlistedTLD:      "top level domain is not on the public suffix list",
}

var roleAccounts = map[string]struct{}{
	"admin": {}, "administrator": {}, "billing": {}, "contact": {}, "help": {}, "info": {},
	"no-reply": {}, "noreply": {}, "postmaster": {}, "sales": {}, "support": {}, "webmaster": {},
	"abuse": {}, "hostmaster": {},
}

// MXResolver looks up mail exchangers. *net.Resolver satisfies it.
type MXResolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// EmailOptions configures the email validator.
type EmailOptions struct {
	DisposableDomains []string
	FreeProviders     []string
	// Resolver enables MX checks when set.
	Resolver MXResolver
	// LookupRate caps MX lookups per second. Zero means unlimited.
	LookupRate  float64
	LookupBurst int
}

// EmailValidator checks syntax, domain reputation lists and optionally MX records.
type EmailValidator struct {
	disposable *DomainSet
	free       *DomainSet
	resolver   MXResolver
	limiter    *rate.Limiter
}

// NewEmailValidator builds an email validator. Empty domain lists fall back to the embedded defaults.
func NewEmailValidator(opts EmailOptions) *EmailValidator {
	disposable := opts.DisposableDomains
	if len(disposable) == 0 {
		disposable = DefaultDisposableDomains()
	}
	free := opts.FreeProviders
	if len(free) == 0 {
		free = DefaultFreeProviders()
	}

	v := &EmailValidator{
		disposable: NewDomainSet(disposable...),
		free:       NewDomainSet(free...),
		resolver:   opts.Resolver,
	}
	if opts.Resolver != nil && opts.LookupRate > 0 {
		burst := opts.LookupBurst
		if burst <= 0 {
			burst = defaultMXLookupBurst
		}
		v.limiter = rate.NewLimiter(rate.Limit(opts.LookupRate), burst)
	}
	return v
}

// Field implements decision.FieldValidator.
func (v *EmailValidator) Field() model.FieldName { return model.FieldEmail }

// Normalize parses the mailbox and lowercases it. Display names are discarded.
func (v *EmailValidator) Normalize(in model.FieldInput) (string, error) {
	raw := strings.TrimSpace(in.Text)
	if raw == "" {
		return "", decision.Malformed(EmailInvalidSyntax, "empty address")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", decision.Malformed(EmailInvalidSyntax, err.Error())
	}
	normalized := strings.ToLower(addr.Address)
	at := strings.LastIndex(normalized, "@")
	if at <= 0 || at == len(normalized)-1 || !strings.Contains(normalized[at+1:], ".") {
		return "", decision.Malformed(EmailInvalidSyntax, "missing domain")
	}
	return normalized, nil
}

// Score implements decision.FieldValidator.
func (v *EmailValidator) Score(ctx context.Context, normalized string, _ decision.ValidationContext) (decision.Assessment, error) {
	local, domain, _ := strings.Cut(normalized, "@")
	var f findings

	if registrableDomain(domain) == "" {
		f.flag(EmailInvalidDomain, 0.6, true)
		return f.assessment(emailConfidenceNoLookup), nil
	}
	if _, icann := publicsuffix.PublicSuffix(domain); !icann {
		f.flag(EmailUnlistedTLD, 0.3, false)
	}
	if v.disposable.Contains(domain) {
		f.flag(EmailDisposableDomain, 0.6, false)
	}
	if v.free.Contains(domain) {
		f.flag(EmailFreeProvider, 0.05, false)
	}
	base, _, _ := strings.Cut(local, "+")
	if _, ok := roleAccounts[base]; ok {
		f.flag(EmailRoleAccount, 0.2, false)
	}

	if v.resolver == nil {
		return f.assessment(emailConfidenceNoLookup), nil
	}
	return v.scoreMX(ctx, domain, &f)
}

func (v *EmailValidator) scoreMX(ctx context.Context, domain string, f *findings) (decision.Assessment, error) {
	if v.limiter != nil {
		if err := v.limiter.Wait(ctx); err != nil {
			return decision.Assessment{}, fmt.Errorf("mx rate limit: %w", err)
		}
	}
	records, err := v.resolver.LookupMX(ctx, domain)
	if err != nil {
		if ctx.Err() != nil {
			return decision.Assessment{}, ctx.Err()
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			f.flag(EmailNoMX, 0.5, true)
			return f.assessment(emailConfidenceLookup), nil
		}
		f.flag(EmailLookupFailed, 0, false)
		return f.assessment(emailConfidenceNoLookup / 2), nil
	}
	if len(records) == 0 {
		f.flag(EmailNoMX, 0.5, true)
	}
	return f.assessment(emailConfidenceLookup), nil
}

// Explain implements decision.FieldValidator.
func (v *EmailValidator) Explain(code string) string { return explain(emailReasons, code) }

var _ decision.FieldValidator = (*EmailValidator)(nil)
