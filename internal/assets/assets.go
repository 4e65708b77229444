// Package assets normalizes exchange asset and pair naming. Kraken reports
// the same asset under several raw keys (legacy X/Z prefixes, wallet
// suffixes for funding/staking sub-wallets); the validator and the safety
// gate both need a single canonical token per asset.
package assets

import "strings"

// legacy maps Kraken classic asset codes onto canonical tokens.
var legacy = map[string]string{
	"XXBT": "BTC",
	"XBT":  "BTC",
	"XETH": "ETH",
	"XXRP": "XRP",
	"XLTC": "LTC",
	"XXLM": "XLM",
	"XXMR": "XMR",
	"XZEC": "ZEC",
	"XETC": "ETC",
	"XXDG": "DOGE",
	"XDG":  "DOGE",
	"ZUSD": "USD",
	"ZEUR": "EUR",
	"ZGBP": "GBP",
	"ZCAD": "CAD",
	"ZJPY": "JPY",
	"ZAUD": "AUD",
	"ZCHF": "CHF",
}

// walletSuffixes are sub-wallet markers appended to balance keys:
// .F funding/rewards, .S staked, .M opt-in rewards, .B bonded, .HOLD holds.
var walletSuffixes = []string{".F", ".S", ".M", ".B", ".HOLD", ".P"}

// quoteCodes are the raw quote currencies recognized when splitting a pair,
// longest first so e.g. USDT wins over USD.
var quoteCodes = []string{
	"ZUSD", "ZEUR", "ZGBP", "ZCAD", "ZJPY", "ZAUD", "ZCHF",
	"USDT", "USDC", "TUSD", "PYUSD", "EURT", "DAI",
	"XXBT", "XBT",
	"USD", "EUR", "GBP", "CAD", "JPY", "AUD", "CHF", "ETH",
}

// stableOrBTC is the set of canonical quotes for which the financial
// direction rule applies: fiat, stablecoins, and BTC.
var stableOrBTC = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "CAD": true, "JPY": true,
	"AUD": true, "CHF": true,
	"USDT": true, "USDC": true, "TUSD": true, "PYUSD": true, "EURT": true,
	"DAI": true,
	"BTC": true,
}

// NormalizeAsset maps a raw asset or wallet key onto its canonical token:
// wallet suffixes are stripped, legacy X/Z codes translated, and the result
// upper-cased. "XBT.F" and "XXBT" both normalize to "BTC".
func NormalizeAsset(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, suffix := range walletSuffixes {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	if canonical, ok := legacy[s]; ok {
		return canonical
	}
	return s
}

// SplitPair splits an exchange pair symbol into raw base and quote codes
// using the known quote suffixes. ok is false when no known quote matches
// or the split would leave an empty base.
func SplitPair(pair string) (base, quote string, ok bool) {
	p := strings.ToUpper(strings.TrimSpace(pair))
	p = strings.ReplaceAll(p, "/", "")
	for _, q := range quoteCodes {
		if strings.HasSuffix(p, q) && len(p) > len(q) {
			return p[:len(p)-len(q)], q, true
		}
	}
	return "", "", false
}

// BaseAsset returns the canonical base asset of a pair, or "" when the
// pair cannot be split.
func BaseAsset(pair string) string {
	base, _, ok := SplitPair(pair)
	if !ok {
		return ""
	}
	return NormalizeAsset(base)
}

// QuoteAsset returns the canonical quote asset of a pair, or "" when the
// pair cannot be split.
func QuoteAsset(pair string) string {
	_, quote, ok := SplitPair(pair)
	if !ok {
		return ""
	}
	return NormalizeAsset(quote)
}

// IsStableOrBTCQuote reports whether the pair is quoted in fiat, a
// stablecoin, or BTC. Only such pairs are subject to the buy-low/sell-high
// direction rule; exotic quotes are treated as deliberate strategy.
func IsStableOrBTCQuote(pair string) bool {
	return stableOrBTC[QuoteAsset(pair)]
}
