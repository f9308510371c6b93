package uniswapv3

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpRebalancer/internal/ports"
)

var _ ports.LiquiditySource = (*Reader)(nil)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

const (
	poolAddr   = "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"
	token0Addr = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	token1Addr = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
)

// fakeChain answers eth_call by matching the method selector and packing canned outputs.
type fakeChain struct {
	t         *testing.T
	contracts map[common.Address]abi.ABI
	responses map[string][]interface{}            // "<address>:<method>"
	blocks    map[uint64]map[string][]interface{} // pool method overrides at a block
	head      uint64
	err       error
	calls     int
}

const (
	genesisTime = 1_700_000_000
	blockTime   = 12
)

func blockAt(n uint64) time.Time {
	return time.Unix(int64(genesisTime+n*blockTime), 0).UTC()
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	n := f.head
	if number != nil {
		n = number.Uint64()
	}
	if n > f.head {
		return nil, errors.New("header not found")
	}
	return &types.Header{Number: new(big.Int).SetUint64(n), Time: genesisTime + n*blockTime}, nil
}

func newFakeChain(t *testing.T, dec0, dec1 uint8, sqrtPrice, liquidity *big.Int) *fakeChain {
	t.Helper()
	pABI, err := abi.JSON(strings.NewReader(poolABI))
	require.NoError(t, err)
	eABI, err := abi.JSON(strings.NewReader(erc20ABI))
	require.NoError(t, err)

	pool := common.HexToAddress(poolAddr)
	t0 := common.HexToAddress(token0Addr)
	t1 := common.HexToAddress(token1Addr)
	return &fakeChain{
		t:         t,
		contracts: map[common.Address]abi.ABI{pool: pABI, t0: eABI, t1: eABI},
		responses: map[string][]interface{}{
			pool.Hex() + ":slot0":                {sqrtPrice, big.NewInt(-201000), uint16(1), uint16(2), uint16(3), uint8(0), true},
			pool.Hex() + ":liquidity":            {liquidity},
			pool.Hex() + ":fee":                  {big.NewInt(3000)},
			pool.Hex() + ":token0":               {t0},
			pool.Hex() + ":token1":               {t1},
			pool.Hex() + ":tickSpacing":          {big.NewInt(60)},
			pool.Hex() + ":feeGrowthGlobal0X128": {big.NewInt(0)},
			pool.Hex() + ":feeGrowthGlobal1X128": {big.NewInt(0)},
			pool.Hex() + ":ticks": {big.NewInt(1), big.NewInt(1), big.NewInt(0), big.NewInt(0),
				big.NewInt(0), big.NewInt(0), uint32(0), true},
			t0.Hex() + ":decimals": {dec0},
			t1.Hex() + ":decimals": {dec1},
		},
		blocks:    map[uint64]map[string][]interface{}{},
		head:      1000,
	}
}

func (f *fakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	require.NotNil(f.t, call.To)
	contract, ok := f.contracts[*call.To]
	require.True(f.t, ok, "unknown contract %s", call.To.Hex())
	for name, m := range contract.Methods {
		if bytes.Equal(call.Data[:4], m.ID) {
			if blockNumber != nil {
				if out, ok := f.blocks[blockNumber.Uint64()][name]; ok {
					return m.Outputs.Pack(out...)
				}
			}
			return m.Outputs.Pack(f.responses[call.To.Hex()+":"+name]...)
		}
	}
	f.t.Fatalf("unknown selector %x", call.Data[:4])
	return nil, nil
}

// sqrtX96 returns sqrt(ratio) * 2^96 for an integer square root.
func sqrtX96(root int64) *big.Int {
	return new(big.Int).Lsh(big.NewInt(root), 96)
}

func newReader(t *testing.T, chain *fakeChain, invert bool) *Reader {
	t.Helper()
	r, err := NewReader(chain, Config{PoolAddress: poolAddr, InvertPrice: invert, Logger: &mockLogger{}})
	require.NoError(t, err)
	return r
}

func TestNewReaderValidation(t *testing.T) {
	chain := newFakeChain(t, 18, 18, sqrtX96(10), big.NewInt(1))

	_, err := NewReader(chain, Config{PoolAddress: poolAddr})
	assert.Error(t, err)
	_, err = NewReader(nil, Config{PoolAddress: poolAddr, Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	_, err = NewReader(chain, Config{PoolAddress: "not-an-address", Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = Dial(context.Background(), Config{PoolAddress: poolAddr, Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestSlot0(t *testing.T) {
	r := newReader(t, newFakeChain(t, 18, 18, sqrtX96(10), big.NewInt(1)), false)

	s0, err := r.Slot0(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, s0.SqrtPriceX96.Cmp(sqrtX96(10)))
	assert.Equal(t, int64(-201000), s0.Tick)
	assert.True(t, s0.Unlocked)
}

func TestPrice(t *testing.T) {
	tests := []struct {
		name       string
		dec0, dec1 uint8
		invert     bool
		want       float64
	}{
		{name: "equal decimals", dec0: 18, dec1: 18, want: 100},
		{name: "usdc weth", dec0: 6, dec1: 18, want: 100e-12},
		{name: "usdc weth inverted", dec0: 6, dec1: 18, invert: true, want: 1e10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReader(t, newFakeChain(t, tt.dec0, tt.dec1, sqrtX96(10), big.NewInt(1)), tt.invert)
			price, err := r.Price(context.Background())
			require.NoError(t, err)
			assert.InEpsilon(t, tt.want, price, 1e-9)
		})
	}
}

func TestPoolLiquidityScalesAndCachesDecimals(t *testing.T) {
	raw := new(big.Int).Mul(big.NewInt(5), new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil))
	chain := newFakeChain(t, 6, 18, sqrtX96(10), raw)
	r := newReader(t, chain, false)

	liq, err := r.PoolLiquidity(context.Background())
	require.NoError(t, err)
	assert.InEpsilon(t, 5.0, liq, 1e-12)

	before := chain.calls
	_, err = r.PoolLiquidity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, chain.calls-before, "decimals are read once")
}

func TestFeeTierBps(t *testing.T) {
	r := newReader(t, newFakeChain(t, 18, 18, sqrtX96(10), big.NewInt(1)), false)
	bps, err := r.FeeTierBps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, bps)
}

func TestCallFailureWrapsChainError(t *testing.T) {
	chain := newFakeChain(t, 18, 18, sqrtX96(10), big.NewInt(1))
	chain.err = errors.New("execution reverted")
	r := newReader(t, chain, false)

	_, err := r.PoolLiquidity(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrChainCall)
	assert.Contains(t, err.Error(), "execution reverted")
}

func TestSqrtPriceToPriceRejectsZero(t *testing.T) {
	_, err := SqrtPriceToPrice(big.NewInt(0), 18, 18, false)
	assert.ErrorIs(t, err, ports.ErrChainCall)
	assert.Zero(t, ScaleLiquidity(nil, 18, 18))
}
