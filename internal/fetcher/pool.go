package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spreadwatch/internal/market"
)

const (
	pairABIJSON = `[
{"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"_reserve0","type":"uint112"},{"internalType":"uint112","name":"_reserve1","type":"uint112"},{"internalType":"uint32","name":"_blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"token1","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`
	erc20ABIJSON = `[{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`
)

var (
	pairABI  abi.ABI
	erc20ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		panic("failed to parse pair ABI: " + err.Error())
	}
	pairABI = parsed

	parsed, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// PoolOptions parameterise the on-chain resolver. Pools maps a token address to a
// constant-product pair against a USD stablecoin.
type PoolOptions struct {
	RPCURLs map[string]string
	Pools   map[string]string
	Timeout time.Duration
}

// PoolResolver prices EVM tokens from pair reserves via JSON-RPC.
type PoolResolver struct {
	opts      PoolOptions
	logger    zerolog.Logger
	clients   map[market.Chain]*ethclient.Client
	clientMux sync.Mutex
}

// NewPoolResolver builds an on-chain resolver.
func NewPoolResolver(opts PoolOptions, logger zerolog.Logger) *PoolResolver {
	pools := make(map[string]string, len(opts.Pools))
	for token, pair := range opts.Pools {
		pools[strings.ToLower(token)] = pair
	}
	opts.Pools = pools

	return &PoolResolver{
		opts:    opts,
		logger:  logger.With().Str("component", "pool_resolver").Logger(),
		clients: make(map[market.Chain]*ethclient.Client),
	}
}

// Resolve reads pair reserves and returns the quote-per-token price.
func (p *PoolResolver) Resolve(ctx context.Context, address string, chain market.Chain) (decimal.Decimal, error) {
	if !chain.IsEVM() {
		return decimal.Decimal{}, fmt.Errorf("chain %q not supported on-chain", chain)
	}
	rpcURL := p.rpcURL(chain)
	if rpcURL == "" {
		return decimal.Decimal{}, fmt.Errorf("rpc url not configured for %s", chain)
	}
	pairHex, ok := p.opts.Pools[strings.ToLower(address)]
	if !ok || !common.IsHexAddress(pairHex) {
		return decimal.Decimal{}, fmt.Errorf("pool not configured for %s", address)
	}
	if !common.IsHexAddress(address) {
		return decimal.Decimal{}, fmt.Errorf("invalid token address %s", address)
	}

	timeout := p.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := p.getClient(ctx, chain, rpcURL)
	if err != nil {
		return decimal.Decimal{}, err
	}

	pair := common.HexToAddress(pairHex)
	token0, err := callAddress(ctx, client, pair, "token0")
	if err != nil {
		return decimal.Decimal{}, err
	}
	token1, err := callAddress(ctx, client, pair, "token1")
	if err != nil {
		return decimal.Decimal{}, err
	}

	res, err := call(ctx, client, pair, pairABI, "getReserves")
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(res) < 2 {
		return decimal.Decimal{}, errors.New("unexpected getReserves response")
	}
	r0, ok0 := res[0].(*big.Int)
	r1, ok1 := res[1].(*big.Int)
	if !ok0 || !ok1 {
		return decimal.Decimal{}, errors.New("failed to decode reserves")
	}

	d0, err := tokenDecimals(ctx, client, token0)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d1, err := tokenDecimals(ctx, client, token1)
	if err != nil {
		return decimal.Decimal{}, err
	}

	return poolPrice(common.HexToAddress(address), token0, token1, r0, r1, d0, d1)
}

// poolPrice returns how much of the other side one unit of target is worth.
func poolPrice(target, token0, token1 common.Address, r0, r1 *big.Int, d0, d1 uint8) (decimal.Decimal, error) {
	amount0 := decimal.NewFromBigInt(r0, -int32(d0))
	amount1 := decimal.NewFromBigInt(r1, -int32(d1))
	if amount0.Sign() <= 0 || amount1.Sign() <= 0 {
		return decimal.Decimal{}, ErrNoPrice
	}

	switch target {
	case token0:
		return amount1.Div(amount0), nil
	case token1:
		return amount0.Div(amount1), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("token %s not in pool (%s, %s)", target.Hex(), token0.Hex(), token1.Hex())
	}
}

func (p *PoolResolver) rpcURL(chain market.Chain) string {
	for name, url := range p.opts.RPCURLs {
		if market.NormalizeChain(name) == chain {
			return url
		}
	}
	return ""
}

func (p *PoolResolver) getClient(ctx context.Context, chain market.Chain, rpcURL string) (*ethclient.Client, error) {
	p.clientMux.Lock()
	defer p.clientMux.Unlock()

	if client, ok := p.clients[chain]; ok {
		return client, nil
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	p.clients[chain] = client
	return client, nil
}

// Close releases RPC clients.
func (p *PoolResolver) Close() {
	p.clientMux.Lock()
	defer p.clientMux.Unlock()
	for chain, client := range p.clients {
		client.Close()
		delete(p.clients, chain)
	}
}

func call(ctx context.Context, client *ethclient.Client, to common.Address, contract abi.ABI, method string) ([]interface{}, error) {
	payload, err := contract.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return contract.Unpack(method, res)
}

func callAddress(ctx context.Context, client *ethclient.Client, to common.Address, method string) (common.Address, error) {
	out, err := call(ctx, client, to, pairABI, method)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("unexpected %s response", method)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("failed to decode %s output", method)
	}
	return addr, nil
}

func tokenDecimals(ctx context.Context, client *ethclient.Client, token common.Address) (uint8, error) {
	out, err := call(ctx, client, token, erc20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	return d, nil
}

var _ PriceResolver = (*PoolResolver)(nil)
