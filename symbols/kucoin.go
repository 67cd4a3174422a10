package symbols

import (
	"strings"

	"venueflow/errs"
)

// KuCoin uses XBT in place of BTC on its futures wire symbols.

// NormalizeKucoin maps a canonical symbol to the KuCoin wire symbol.
// Spot pairs are hyphen-joined: BTC/USDT -> BTC-USDT. Perpetuals use the
// futures convention: BTC/USDT:USDT -> XBTUSDTM.
func NormalizeKucoin(symbol string) (string, error) {
	p, err := Parse(symbol)
	if err != nil {
		return "", err
	}
	if !p.Perpetual {
		return p.Base + "-" + p.Quote, nil
	}
	if p.Settle != p.Quote {
		return "", errs.New(errs.KindValidation, "kucoin", "symbols.NormalizeKucoin", "settle %q must equal quote %q for kucoin perpetuals", p.Settle, p.Quote)
	}
	base := p.Base
	if base == "BTC" {
		base = "XBT"
	}
	return base + p.Quote + "M", nil
}

// DenormalizeKucoin maps a KuCoin wire symbol back to canonical form.
// Hyphenated symbols are spot pairs; a trailing M marks a perpetual.
// XBT-USDTM -> BTC/USDT:USDT style variants are accepted as well since
// some KuCoin endpoints hyphenate futures symbols.
func DenormalizeKucoin(wire string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(wire))
	perpetual := strings.HasSuffix(sym, "M") && !strings.Contains(sym, "-")
	if i := strings.IndexByte(sym, '-'); i >= 0 && strings.HasSuffix(sym, "M") {
		// hyphenated futures form
		perpetual = true
		sym = strings.ReplaceAll(sym, "-", "")
	}

	if perpetual {
		sym = strings.TrimSuffix(sym, "M")
		if strings.HasPrefix(sym, "XBT") {
			sym = "BTC" + sym[3:]
		}
		base, quote, ok := splitConcat(sym)
		if !ok {
			return "", errs.New(errs.KindValidation, "kucoin", "symbols.DenormalizeKucoin", "unrecognized wire symbol %q", wire)
		}
		return base + "/" + quote + ":" + quote, nil
	}

	parts := strings.Split(sym, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", errs.New(errs.KindValidation, "kucoin", "symbols.DenormalizeKucoin", "unrecognized wire symbol %q", wire)
	}
	return parts[0] + "/" + parts[1], nil
}
