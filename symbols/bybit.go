package symbols

import (
	"strings"

	"venueflow/errs"
)

// NormalizeBybit maps a canonical symbol to the Bybit V5 wire symbol.
// Spot and linear perpetuals share the concatenated form; the API
// category (spot vs linear) is carried separately by the adapter.
// BTC/USDT -> BTCUSDT, BTC/USDT:USDT -> BTCUSDT.
func NormalizeBybit(symbol string) (string, error) {
	p, err := Parse(symbol)
	if err != nil {
		return "", err
	}
	if p.Perpetual && p.Settle != p.Quote {
		return "", errs.New(errs.KindValidation, "bybit", "symbols.NormalizeBybit", "settle %q must equal quote %q for linear perpetuals", p.Settle, p.Quote)
	}
	return p.Base + p.Quote, nil
}

// DenormalizeBybit maps a Bybit wire symbol back to canonical form. The
// category disambiguates the shared wire format: "linear" yields a
// perpetual identifier, anything else a spot pair.
func DenormalizeBybit(wire, category string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(wire))
	base, quote, ok := splitConcat(sym)
	if !ok {
		return "", errs.New(errs.KindValidation, "bybit", "symbols.DenormalizeBybit", "unrecognized wire symbol %q", wire)
	}
	if strings.EqualFold(category, "linear") {
		return base + "/" + quote + ":" + quote, nil
	}
	return base + "/" + quote, nil
}
