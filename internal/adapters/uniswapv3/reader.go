package uniswapv3

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"lpRebalancer/internal/ports"
)

const poolABI = `[
	{"name":"slot0","type":"function","stateMutability":"view","inputs":[],"outputs":[
		{"name":"sqrtPriceX96","type":"uint160"},
		{"name":"tick","type":"int24"},
		{"name":"observationIndex","type":"uint16"},
		{"name":"observationCardinality","type":"uint16"},
		{"name":"observationCardinalityNext","type":"uint16"},
		{"name":"feeProtocol","type":"uint8"},
		{"name":"unlocked","type":"bool"}]},
	{"name":"liquidity","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]},
	{"name":"fee","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint24"}]},
	{"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"token1","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"tickSpacing","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int24"}]},
	{"name":"feeGrowthGlobal0X128","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"feeGrowthGlobal1X128","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"ticks","type":"function","stateMutability":"view","inputs":[{"name":"tick","type":"int24"}],"outputs":[
		{"name":"liquidityGross","type":"uint128"},
		{"name":"liquidityNet","type":"int128"},
		{"name":"feeGrowthOutside0X128","type":"uint256"},
		{"name":"feeGrowthOutside1X128","type":"uint256"},
		{"name":"tickCumulativeOutside","type":"int56"},
		{"name":"secondsPerLiquidityOutsideX128","type":"uint160"},
		{"name":"secondsOutside","type":"uint32"},
		{"name":"initialized","type":"bool"}]}
]`

const erc20ABI = `[
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

// q96 is 2^96, the fixed-point scale of sqrtPriceX96.
var q96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// ContractCaller is the read-only subset of an Ethereum client the reader needs.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// HeaderReader reads block headers. It is needed only for the block and
// fee-growth queries that are tied to a point in time.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Config holds configuration for the pool reader.
type Config struct {
	RPCURL      string
	PoolAddress string
	// InvertPrice reports prices as token0 per token1, for pools whose
	// token0 is the quote asset.
	InvertPrice bool
	CallTimeout time.Duration
	Logger      ports.Logger
}

// Slot0 is the pool's packed current state.
type Slot0 struct {
	SqrtPriceX96 *big.Int
	Tick         int64
	Unlocked     bool
}

// Reader reads Uniswap v3 pool state through eth_call. It implements
// ports.LiquiditySource.
type Reader struct {
	caller      ContractCaller
	headers     HeaderReader
	closer      func()
	pool        common.Address
	poolABI     abi.ABI
	erc20ABI    abi.ABI
	invert      bool
	callTimeout time.Duration
	logger      ports.Logger

	mu             sync.Mutex
	dec0, dec1     uint8
	decimalsLoaded bool
}

// Dial connects to cfg.RPCURL and returns a reader for cfg.PoolAddress.
func Dial(ctx context.Context, cfg Config) (*Reader, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("%w: RPC URL is required for the pool reader", ports.ErrConfigurationError)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ports.ErrChainCall, cfg.RPCURL, err)
	}
	r, err := NewReader(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	r.closer = client.Close
	return r, nil
}

// NewReader creates a reader on an existing caller.
func NewReader(caller ContractCaller, cfg Config) (*Reader, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for pool reader")
	}
	if caller == nil {
		return nil, fmt.Errorf("%w: contract caller is required", ports.ErrInvalidRequest)
	}
	if !common.IsHexAddress(cfg.PoolAddress) {
		return nil, fmt.Errorf("%w: invalid pool address %q", ports.ErrConfigurationError, cfg.PoolAddress)
	}
	pABI, err := abi.JSON(strings.NewReader(poolABI))
	if err != nil {
		return nil, fmt.Errorf("parsing pool ABI: %w", err)
	}
	eABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parsing ERC20 ABI: %w", err)
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	headers, _ := caller.(HeaderReader)
	return &Reader{
		caller:      caller,
		headers:     headers,
		pool:        common.HexToAddress(cfg.PoolAddress),
		poolABI:     pABI,
		erc20ABI:    eABI,
		invert:      cfg.InvertPrice,
		callTimeout: timeout,
		logger:      cfg.Logger,
	}, nil
}

// Close releases the underlying RPC connection, if the reader owns one.
func (r *Reader) Close() {
	if r.closer != nil {
		r.closer()
	}
}

// call packs method, runs eth_call against to at the latest block and unpacks the outputs.
func (r *Reader) call(ctx context.Context, contract abi.ABI, to common.Address, method string) ([]interface{}, error) {
	return r.callAt(ctx, contract, to, nil, method)
}

// callAt is call against a historical block; a nil block means latest.
func (r *Reader) callAt(ctx context.Context, contract abi.ABI, to common.Address, block *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	out, err := r.caller.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		r.logger.Error(ctx, err, "eth_call failed", map[string]interface{}{"method": method, "to": to.Hex(), "block": block})
		return nil, fmt.Errorf("%w: %s on %s: %v", ports.ErrChainCall, method, to.Hex(), err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: unpacking %s: %v", ports.ErrChainCall, method, err)
	}
	return values, nil
}

// Slot0 reads the pool's current sqrt price and tick.
func (r *Reader) Slot0(ctx context.Context) (Slot0, error) {
	return r.slot0At(ctx, nil)
}

func (r *Reader) slot0At(ctx context.Context, block *big.Int) (Slot0, error) {
	values, err := r.callAt(ctx, r.poolABI, r.pool, block, "slot0")
	if err != nil {
		return Slot0{}, err
	}
	sqrtPrice, ok := values[0].(*big.Int)
	if !ok {
		return Slot0{}, fmt.Errorf("%w: unexpected sqrtPriceX96 type %T", ports.ErrChainCall, values[0])
	}
	tick, ok := values[1].(*big.Int)
	if !ok {
		return Slot0{}, fmt.Errorf("%w: unexpected tick type %T", ports.ErrChainCall, values[1])
	}
	unlocked, _ := values[6].(bool)
	return Slot0{SqrtPriceX96: sqrtPrice, Tick: tick.Int64(), Unlocked: unlocked}, nil
}

// Liquidity reads the pool's raw in-range liquidity.
func (r *Reader) Liquidity(ctx context.Context) (*big.Int, error) {
	values, err := r.call(ctx, r.poolABI, r.pool, "liquidity")
	if err != nil {
		return nil, err
	}
	liq, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected liquidity type %T", ports.ErrChainCall, values[0])
	}
	return liq, nil
}

// FeeTierBps reads the pool fee and converts it from hundredths of a bip to bps.
func (r *Reader) FeeTierBps(ctx context.Context) (int, error) {
	values, err := r.call(ctx, r.poolABI, r.pool, "fee")
	if err != nil {
		return 0, err
	}
	fee, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected fee type %T", ports.ErrChainCall, values[0])
	}
	return int(fee.Int64() / 100), nil
}

// TokenDecimals reads token0 and token1 decimals. A successful read is cached.
func (r *Reader) TokenDecimals(ctx context.Context) (uint8, uint8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decimalsLoaded {
		return r.dec0, r.dec1, nil
	}
	d0, d1, err := r.loadDecimals(ctx)
	if err != nil {
		return 0, 0, err
	}
	r.dec0, r.dec1, r.decimalsLoaded = d0, d1, true
	return d0, d1, nil
}

func (r *Reader) loadDecimals(ctx context.Context) (uint8, uint8, error) {
	var decs [2]uint8
	for i, method := range []string{"token0", "token1"} {
		values, err := r.call(ctx, r.poolABI, r.pool, method)
		if err != nil {
			return 0, 0, err
		}
		token, ok := values[0].(common.Address)
		if !ok {
			return 0, 0, fmt.Errorf("%w: unexpected %s type %T", ports.ErrChainCall, method, values[0])
		}
		values, err = r.call(ctx, r.erc20ABI, token, "decimals")
		if err != nil {
			return 0, 0, err
		}
		d, ok := values[0].(uint8)
		if !ok {
			return 0, 0, fmt.Errorf("%w: unexpected decimals type %T", ports.ErrChainCall, values[0])
		}
		decs[i] = d
	}
	return decs[0], decs[1], nil
}

// Price returns the current pool price in human units, token1 per token0
// (or the inverse when configured).
func (r *Reader) Price(ctx context.Context) (float64, error) {
	s0, err := r.Slot0(ctx)
	if err != nil {
		return 0, err
	}
	d0, d1, err := r.TokenDecimals(ctx)
	if err != nil {
		return 0, err
	}
	return SqrtPriceToPrice(s0.SqrtPriceX96, d0, d1, r.invert)
}

// PoolLiquidity returns the in-range liquidity scaled to human token units,
// comparable with liquidity computed from quote capital.
func (r *Reader) PoolLiquidity(ctx context.Context) (float64, error) {
	raw, err := r.Liquidity(ctx)
	if err != nil {
		return 0, err
	}
	d0, d1, err := r.TokenDecimals(ctx)
	if err != nil {
		return 0, err
	}
	return ScaleLiquidity(raw, d0, d1), nil
}

// SqrtPriceToPrice converts a Q64.96 sqrt price to a human price.
func SqrtPriceToPrice(sqrtPriceX96 *big.Int, dec0, dec1 uint8, invert bool) (float64, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return 0, fmt.Errorf("%w: non-positive sqrt price", ports.ErrChainCall)
	}
	ratio := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), q96)
	price, _ := new(big.Float).Mul(ratio, ratio).Float64()
	price *= math.Pow10(int(dec0) - int(dec1))
	if invert {
		price = 1 / price
	}
	return price, nil
}

// ScaleLiquidity converts raw pool liquidity to human token units.
func ScaleLiquidity(raw *big.Int, dec0, dec1 uint8) float64 {
	if raw == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(raw).Float64()
	return f / math.Pow(10, float64(int(dec0)+int(dec1))/2)
}
