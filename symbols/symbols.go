// Package symbols converts between canonical instrument identifiers and
// venue wire symbols. Canonical format: "BASE/QUOTE" for spot and
// "BASE/QUOTE:SETTLE" for perpetuals. Every venue pair of functions is
// pure and the two directions are mutual inverses for listed symbols.
package symbols

import (
	"strings"

	"venueflow/errs"
)

// Pair is a parsed canonical symbol.
type Pair struct {
	Base      string
	Quote     string
	Settle    string
	Perpetual bool
}

// Canonical re-renders the pair in canonical form.
func (p Pair) Canonical() string {
	if p.Perpetual {
		return p.Base + "/" + p.Quote + ":" + p.Settle
	}
	return p.Base + "/" + p.Quote
}

// Parse splits a canonical symbol. Anything that is not BASE/QUOTE or
// BASE/QUOTE:SETTLE is a validation error, never a silent pass-through.
func Parse(symbol string) (Pair, error) {
	var p Pair
	body := symbol
	if i := strings.IndexByte(symbol, ':'); i >= 0 {
		p.Perpetual = true
		p.Settle = symbol[i+1:]
		body = symbol[:i]
		if p.Settle == "" {
			return Pair{}, errs.New(errs.KindValidation, "", "symbols.Parse", "empty settle currency in %q", symbol)
		}
	}
	parts := strings.Split(body, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, errs.New(errs.KindValidation, "", "symbols.Parse", "malformed symbol %q, want BASE/QUOTE or BASE/QUOTE:SETTLE", symbol)
	}
	p.Base = strings.ToUpper(parts[0])
	p.Quote = strings.ToUpper(parts[1])
	p.Settle = strings.ToUpper(p.Settle)
	return p, nil
}

// quoteAssets are recognised quote currencies, longest first so that
// suffix matching against concatenated pairs is unambiguous.
var quoteAssets = []string{
	"FDUSD", "USDT", "USDC", "TUSD", "BUSD", "DAI",
	"EUR", "TRY", "GBP", "BRL", "BNB", "BTC", "ETH", "USD",
}

// splitConcat splits a concatenated pair like "BTCUSDT" into base and
// quote by matching a known quote suffix.
func splitConcat(sym string) (base, quote string, ok bool) {
	for _, q := range quoteAssets {
		if strings.HasSuffix(sym, q) && len(sym) > len(q) {
			return sym[:len(sym)-len(q)], q, true
		}
	}
	return "", "", false
}
