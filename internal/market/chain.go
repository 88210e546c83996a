package market

import "strings"

// Chain is a normalised blockchain identifier as used by the DEX venue URLs.
type Chain string

const (
	ChainUnknown  Chain = ""
	ChainEthereum Chain = "ethereum"
	ChainBSC      Chain = "bsc"
	ChainSolana   Chain = "solana"
	ChainBase     Chain = "base"
	ChainArbitrum Chain = "arbitrum"
	ChainPolygon  Chain = "polygon"
	ChainOptimism Chain = "optimism"
)

var chainAliases = map[string]Chain{
	"ethereum":            ChainEthereum,
	"eth":                 ChainEthereum,
	"erc20":               ChainEthereum,
	"bsc":                 ChainBSC,
	"bep20":               ChainBSC,
	"binance-smart-chain": ChainBSC,
	"sol":                 ChainSolana,
	"solana":              ChainSolana,
	"base":                ChainBase,
	"arbitrum":            ChainArbitrum,
	"arbitrum_one":        ChainArbitrum,
	"arbitrum one":        ChainArbitrum,
	"polygon":             ChainPolygon,
	"matic":               ChainPolygon,
	"optimism":            ChainOptimism,
	"op":                  ChainOptimism,
}

// NormalizeChain maps a free-form chain hint to a Chain, or ChainUnknown.
func NormalizeChain(hint string) Chain {
	return chainAliases[strings.ToLower(strings.TrimSpace(hint))]
}

// IsEVM reports whether the chain uses 0x-prefixed hex addresses.
func (c Chain) IsEVM() bool {
	switch c {
	case ChainEthereum, ChainBSC, ChainBase, ChainArbitrum, ChainPolygon, ChainOptimism:
		return true
	}
	return false
}

// InferChain resolves the chain for an address: explicit hint first, then address shape.
// 44-character addresses are Solana mints; everything else falls back to defaultEVM.
func InferChain(address, hint string, defaultEVM Chain) Chain {
	if c := NormalizeChain(hint); c != ChainUnknown {
		return c
	}
	if defaultEVM == ChainUnknown {
		defaultEVM = ChainBSC
	}
	if len(address) == 44 {
		return ChainSolana
	}
	return defaultEVM
}
