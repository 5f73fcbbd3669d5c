package payment

import (
	"context"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct{ p Provider }

func (s stubAdapter) Provider() Provider { return s.p }

func (s stubAdapter) BuildOutboundRequest(context.Context, Bill, string) (*OutboundRequest, error) {
	return &OutboundRequest{Provider: s.p}, nil
}

func (s stubAdapter) VerifyCallback(context.Context, url.Values) (*Outcome, error) {
	return &Outcome{Provider: s.p}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubAdapter{ProviderWallet}, stubAdapter{ProviderBankCard})

	a, err := r.Get(ProviderWallet)
	require.NoError(t, err)
	assert.Equal(t, ProviderWallet, a.Provider())

	_, err = r.Get(ProviderDelivery)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	r.Register(stubAdapter{ProviderDelivery})
	assert.Equal(t, []Provider{ProviderBankCard, ProviderDelivery, ProviderWallet}, r.Providers())
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("mobilemoney")
	require.NoError(t, err)
	assert.Equal(t, ProviderMobileMoney, p)

	_, err = ParseProvider("paypal")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestAmountsMatch(t *testing.T) {
	d := decimal.RequireFromString

	tests := []struct {
		name     string
		expected string
		received string
		currency string
		want     bool
	}{
		{"exact", "5000", "5000.00", "AMD", true},
		{"within tolerance", "100.00", "99.99", "USD", true},
		{"rounds to same dram", "5000", "4999.98", "AMD", true},
		{"short by a hundred", "5000", "4900", "AMD", false},
		{"cents off in usd", "100.00", "99.98", "USD", false},
		{"overpaid whole dram", "5000", "5001", "AMD", false},
		{"half dram short", "5000", "4999.50", "AMD", false},
		{"half dram over", "5000", "5000.49", "AMD", false},
		{"just inside slack", "5000", "4999.96", "AMD", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AmountsMatch(d(tt.expected), d(tt.received), tt.currency))
		})
	}
}

func TestCurrenciesMatch(t *testing.T) {
	assert.True(t, CurrenciesMatch("AMD", "amd"))
	assert.False(t, CurrenciesMatch("AMD", "USD"))
}

func TestParseAmount(t *testing.T) {
	a, err := ParseAmount("4999,98")
	require.NoError(t, err)
	assert.Equal(t, "4999.98", a.String())

	_, err = ParseAmount("")
	assert.ErrorIs(t, err, ErrMalformedCallback)

	_, err = ParseAmount("12abc")
	assert.ErrorIs(t, err, ErrMalformedCallback)

	assert.Equal(t, "5000.00", FormatAmount(decimal.NewFromInt(5000)))
}
