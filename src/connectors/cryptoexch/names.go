package cryptoexch

// assetNames maps common crypto symbols to display names. Unknown symbols
// fall back to the raw symbol.
var assetNames = map[string]string{
	"BTC":   "Bitcoin",
	"ETH":   "Ethereum",
	"BNB":   "Binance Coin",
	"SOL":   "Solana",
	"ADA":   "Cardano",
	"XRP":   "Ripple",
	"DOT":   "Polkadot",
	"DOGE":  "Dogecoin",
	"AVAX":  "Avalanche",
	"MATIC": "Polygon",
	"LINK":  "Chainlink",
	"UNI":   "Uniswap",
	"ATOM":  "Cosmos",
	"LTC":   "Litecoin",
	"ETC":   "Ethereum Classic",
	"XLM":   "Stellar",
	"ALGO":  "Algorand",
	"NEAR":  "NEAR Protocol",
	"FTM":   "Fantom",
	"SAND":  "The Sandbox",
	"MANA":  "Decentraland",
	"APE":   "ApeCoin",
	"SHIB":  "Shiba Inu",
	"CRO":   "Cronos",
	"USDT":  "Tether",
	"USDC":  "USD Coin",
	"BUSD":  "Binance USD",
	"DAI":   "Dai",
	"TUSD":  "TrueUSD",
	"USDP":  "Pax Dollar",
}

// stablecoins are always valued at ~$1; no ticker lookup needed.
var stablecoins = map[string]bool{
	"USDT": true,
	"USDC": true,
	"BUSD": true,
	"DAI":  true,
	"TUSD": true,
	"USDP": true,
	"FRAX": true,
	"GUSD": true,
}

// quoteFallbacks is the quote-currency chain tried when pricing an asset.
var quoteFallbacks = []string{"USDT", "USD", "BUSD", "USDC"}

func assetName(symbol string) string {
	if name, ok := assetNames[symbol]; ok {
		return name
	}
	return symbol
}
