package symbols

import (
	"strings"

	"venueflow/errs"
)

// NormalizeBinance maps a canonical spot symbol to the Binance wire
// symbol: BTC/USDT -> BTCUSDT.
func NormalizeBinance(symbol string) (string, error) {
	p, err := Parse(symbol)
	if err != nil {
		return "", err
	}
	if p.Perpetual {
		return "", errs.New(errs.KindValidation, "binance", "symbols.NormalizeBinance", "perpetual symbol %q not tradable on spot venue", symbol)
	}
	return p.Base + p.Quote, nil
}

// DenormalizeBinance maps a Binance spot wire symbol back to canonical
// form: BTCUSDT -> BTC/USDT.
func DenormalizeBinance(wire string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(wire))
	base, quote, ok := splitConcat(sym)
	if !ok {
		return "", errs.New(errs.KindValidation, "binance", "symbols.DenormalizeBinance", "unrecognized wire symbol %q", wire)
	}
	return base + "/" + quote, nil
}

// NormalizeBinanceFutures maps a canonical perpetual to the USD-M wire
// symbol: BTC/USDT:USDT -> BTCUSDT. The settle currency must match the
// quote, which is how Binance lists USD-M perpetuals.
func NormalizeBinanceFutures(symbol string) (string, error) {
	p, err := Parse(symbol)
	if err != nil {
		return "", err
	}
	if !p.Perpetual {
		return "", errs.New(errs.KindValidation, "binancefutures", "symbols.NormalizeBinanceFutures", "spot symbol %q not tradable on futures venue", symbol)
	}
	if p.Settle != p.Quote {
		return "", errs.New(errs.KindValidation, "binancefutures", "symbols.NormalizeBinanceFutures", "settle %q must equal quote %q for USD-M perpetuals", p.Settle, p.Quote)
	}
	return p.Base + p.Quote, nil
}

// DenormalizeBinanceFutures maps a USD-M wire symbol back to canonical
// form: BTCUSDT -> BTC/USDT:USDT.
func DenormalizeBinanceFutures(wire string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(wire))
	base, quote, ok := splitConcat(sym)
	if !ok {
		return "", errs.New(errs.KindValidation, "binancefutures", "symbols.DenormalizeBinanceFutures", "unrecognized wire symbol %q", wire)
	}
	return base + "/" + quote + ":" + quote, nil
}
