package validators

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderguard/orderguard/internal/domain/decision"
	"github.com/orderguard/orderguard/internal/domain/model"
)

type fakeResolver struct {
	records []*net.MX
	err     error
	calls   int
}

func (r *fakeResolver) LookupMX(_ context.Context, _ string) ([]*net.MX, error) {
	r.calls++
	return r.records, r.err
}

func TestEmailValidator_Normalize(t *testing.T) {
	v := NewEmailValidator(EmailOptions{})

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "lowercases", in: "  Jane.Doe@Example.COM ", want: "jane.doe@example.com"},
		{name: "display name", in: "Jane <jane@example.com>", want: "jane@example.com"},
		{name: "empty", in: "   ", wantErr: true},
		{name: "no at", in: "jane.example.com", wantErr: true},
		{name: "no dot in domain", in: "jane@localhost", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Normalize(model.FieldInput{Text: tt.in})
			if tt.wantErr {
				var malformed *decision.MalformedError
				require.ErrorAs(t, err, &malformed)
				assert.Equal(t, EmailInvalidSyntax, malformed.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmailValidator_Score(t *testing.T) {
	v := NewEmailValidator(EmailOptions{})
	ctx := context.Background()

	tests := []struct {
		name      string
		email     string
		wantValid bool
		wantCodes []string
	}{
		{name: "clean corporate", email: "jane@acme-industries.com", wantValid: true, wantCodes: []string{}},
		{name: "disposable", email: "x@mailinator.com", wantValid: true, wantCodes: []string{EmailDisposableDomain}},
		{name: "disposable subdomain", email: "x@inbox.yopmail.com", wantValid: true, wantCodes: []string{EmailDisposableDomain}},
		{name: "free provider", email: "jane@gmail.com", wantValid: true, wantCodes: []string{EmailFreeProvider}},
		{name: "role account with tag", email: "support+orders@acme.com", wantValid: true, wantCodes: []string{EmailRoleAccount}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := v.Score(ctx, tt.email, decision.ValidationContext{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, a.Valid)
			assert.ElementsMatch(t, tt.wantCodes, a.ReasonCodes)
			assert.GreaterOrEqual(t, a.RiskScore, 0.0)
			assert.LessOrEqual(t, a.RiskScore, 1.0)
		})
	}
}

func TestEmailValidator_DisposableRiskExceedsClean(t *testing.T) {
	v := NewEmailValidator(EmailOptions{})
	clean, err := v.Score(context.Background(), "jane@acme.com", decision.ValidationContext{})
	require.NoError(t, err)
	disposable, err := v.Score(context.Background(), "jane@mailinator.com", decision.ValidationContext{})
	require.NoError(t, err)
	assert.Greater(t, disposable.RiskScore, clean.RiskScore)
}

func TestEmailValidator_MXLookup(t *testing.T) {
	t.Run("records present", func(t *testing.T) {
		r := &fakeResolver{records: []*net.MX{{Host: "mx.acme.com.", Pref: 10}}}
		v := NewEmailValidator(EmailOptions{Resolver: r})
		a, err := v.Score(context.Background(), "jane@acme.com", decision.ValidationContext{})
		require.NoError(t, err)
		assert.True(t, a.Valid)
		assert.Equal(t, 1, r.calls)
		assert.InDelta(t, emailConfidenceLookup, a.Confidence, 1e-9)
	})

	t.Run("domain not found", func(t *testing.T) {
		r := &fakeResolver{err: &net.DNSError{Err: "no such host", Name: "acme.invalid", IsNotFound: true}}
		v := NewEmailValidator(EmailOptions{Resolver: r})
		a, err := v.Score(context.Background(), "jane@acme.com", decision.ValidationContext{})
		require.NoError(t, err)
		assert.False(t, a.Valid)
		assert.Contains(t, a.ReasonCodes, EmailNoMX)
	})

	t.Run("transient failure lowers confidence", func(t *testing.T) {
		r := &fakeResolver{err: errors.New("server misbehaving")}
		v := NewEmailValidator(EmailOptions{Resolver: r})
		a, err := v.Score(context.Background(), "jane@acme.com", decision.ValidationContext{})
		require.NoError(t, err)
		assert.True(t, a.Valid)
		assert.Contains(t, a.ReasonCodes, EmailLookupFailed)
		assert.Less(t, a.Confidence, emailConfidenceNoLookup)
	})

	t.Run("rate limiter honours cancellation", func(t *testing.T) {
		r := &fakeResolver{records: []*net.MX{{Host: "mx.acme.com."}}}
		v := NewEmailValidator(EmailOptions{Resolver: r, LookupRate: 0.001, LookupBurst: 1})

		_, err := v.Score(context.Background(), "jane@acme.com", decision.ValidationContext{})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = v.Score(ctx, "jane@acme.com", decision.ValidationContext{})
		require.Error(t, err)
		assert.Equal(t, 1, r.calls)
	})
}

func TestDomainSet(t *testing.T) {
	s := NewDomainSet("Tempbox.net", " ", "example.co.uk.")
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains("tempbox.net"))
	assert.True(t, s.Contains("mail.TEMPBOX.net"))
	assert.True(t, s.Contains("shop.example.co.uk"))
	assert.False(t, s.Contains("co.uk"))
	assert.False(t, s.Contains("tempbox.org"))

	var nilSet *DomainSet
	assert.False(t, nilSet.Contains("tempbox.net"))
}

func TestEmailValidator_Explain(t *testing.T) {
	v := NewEmailValidator(EmailOptions{})
	assert.NotEqual(t, EmailDisposableDomain, v.Explain(EmailDisposableDomain))
	assert.Equal(t, "unknown_code", v.Explain("unknown_code"))
}
