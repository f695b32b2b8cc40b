package scanner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/chainguard/internal/chain"
	"github.com/mbd888/chainguard/internal/explorer"
	"github.com/mbd888/chainguard/internal/goplus"
	"github.com/mbd888/chainguard/internal/logging"
	"github.com/mbd888/chainguard/internal/scan"
)

const (
	walletAddr   = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	contractAddr = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

// fakeChain implements ChainReader with canned values.
type fakeChain struct {
	hasCode    bool
	hasCodeErr error
	balance    string
	nonce      uint64
	owner      string
	ownerErr   error
	proxy      chain.ProxyInfo
	metadata   chain.TokenMetadata
}

func (f *fakeChain) HasCode(ctx context.Context, address string) (bool, error) {
	return f.hasCode, f.hasCodeErr
}

func (f *fakeChain) Balance(ctx context.Context, address string) (string, error) {
	return f.balance, nil
}

func (f *fakeChain) Nonce(ctx context.Context, address string) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeChain) Owner(ctx context.Context, address string) (string, error) {
	return f.owner, f.ownerErr
}

func (f *fakeChain) DetectProxy(ctx context.Context, address string) chain.ProxyInfo {
	return f.proxy
}

func (f *fakeChain) TokenMetadata(ctx context.Context, address string) chain.TokenMetadata {
	if f.metadata.Name == "" {
		return chain.TokenMetadata{Name: "Unknown", Symbol: "UNKNOWN", Decimals: 18, TotalSupply: "0"}
	}
	return f.metadata
}

// fakeExplorer implements Explorer with canned values.
type fakeExplorer struct {
	source      *explorer.Source
	sourceErr   error
	implSources map[string]*explorer.Source
	creation    *explorer.Creation
	creationErr error
	firstTx     *explorer.Tx
	firstTxErr  error
	recent      []explorer.Tx
	recentErr   error
}

func (f *fakeExplorer) ContractSource(ctx context.Context, address string) (*explorer.Source, error) {
	if src, ok := f.implSources[address]; ok {
		return src, nil
	}
	if f.sourceErr != nil {
		return nil, f.sourceErr
	}
	if f.source == nil {
		return &explorer.Source{}, nil
	}
	return f.source, nil
}

func (f *fakeExplorer) ContractCreation(ctx context.Context, address string) (*explorer.Creation, error) {
	return f.creation, f.creationErr
}

func (f *fakeExplorer) FirstTransaction(ctx context.Context, address string) (*explorer.Tx, error) {
	return f.firstTx, f.firstTxErr
}

func (f *fakeExplorer) RecentTransactions(ctx context.Context, address string, limit int) ([]explorer.Tx, error) {
	return f.recent, f.recentErr
}

// fakeSecurity implements Security with canned values.
type fakeSecurity struct {
	token      *goplus.TokenSecurity
	tokenErr   error
	address    *goplus.AddressSecurity
	addressErr error
}

func (f *fakeSecurity) TokenSecurity(ctx context.Context, chainID int64, address string) (*goplus.TokenSecurity, error) {
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	if f.token == nil {
		return &goplus.TokenSecurity{}, nil
	}
	return f.token, nil
}

func (f *fakeSecurity) AddressSecurity(ctx context.Context, chainID int64, address string) (*goplus.AddressSecurity, error) {
	if f.addressErr != nil {
		return nil, f.addressErr
	}
	if f.address == nil {
		return &goplus.AddressSecurity{Available: true}, nil
	}
	return f.address, nil
}

// fakeInterp implements Interpreter deterministically.
type fakeInterp struct{}

func (fakeInterp) Analyze(ctx context.Context, result *scan.Result) *scan.Interpretation {
	return &scan.Interpretation{
		Summary:        "test interpretation",
		TopRisks:       []string{},
		Reasoning:      "test",
		Recommendation: scan.RecommendCaution,
		Confidence:     0.6,
	}
}

// fakeEth implements chain.EthClient for registry-backed engine tests.
type fakeEth struct {
	code    []byte
	codeErr error
}

func (f *fakeEth) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return f.code, f.codeErr
}

func (f *fakeEth) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	return make([]byte, 32), nil
}

func (f *fakeEth) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeEth) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return 0, nil
}

func (f *fakeEth) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, errors.New("execution reverted")
}

func (f *fakeEth) Close() {}

func newTestEngine(t *testing.T, eth *fakeEth, exp Explorer, sec Security) *Engine {
	t.Helper()

	client, err := chain.NewClient(chain.Info{ID: 1, Name: "Ethereum", NativeSymbol: "ETH"}, chain.WithEthClient(eth))
	require.NoError(t, err)

	reg := chain.NewRegistry(nil, slog.Default())
	reg.Register(1, client)

	explorers := map[int64]Explorer{}
	if exp != nil {
		explorers[1] = exp
	}

	return New(reg, explorers, sec, fakeInterp{},
		WithClock(func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }),
		WithIDFunc(func(time.Time) string { return "scan_test_1" }),
	)
}

func TestScanRejectsInvalidAddress(t *testing.T) {
	e := newTestEngine(t, &fakeEth{}, &fakeExplorer{}, &fakeSecurity{})

	_, err := e.Scan(context.Background(), "nonsense", 1, "")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = e.Scan(context.Background(), "0x123", 1, "")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestScanRejectsUnsupportedChain(t *testing.T) {
	e := newTestEngine(t, &fakeEth{}, &fakeExplorer{}, &fakeSecurity{})

	_, err := e.Scan(context.Background(), walletAddr, 999, "")
	assert.ErrorIs(t, err, ErrUnsupportedChain)
}

func TestScanRejectsUnknownScanType(t *testing.T) {
	e := newTestEngine(t, &fakeEth{}, &fakeExplorer{}, &fakeSecurity{})

	_, err := e.Scan(context.Background(), walletAddr, 1, "nft")
	assert.ErrorIs(t, err, ErrInvalidScanType)
}

func TestClassification(t *testing.T) {
	t.Run("bytecode present classifies as token", func(t *testing.T) {
		e := newTestEngine(t, &fakeEth{code: []byte{0x60}}, &fakeExplorer{}, &fakeSecurity{})
		result, err := e.Scan(context.Background(), contractAddr, 1, "")
		require.NoError(t, err)
		assert.Equal(t, scan.TypeToken, result.Type)
		assert.NotNil(t, result.Token)
		assert.Nil(t, result.Wallet)
	})

	t.Run("no bytecode classifies as wallet", func(t *testing.T) {
		e := newTestEngine(t, &fakeEth{}, &fakeExplorer{}, &fakeSecurity{})
		result, err := e.Scan(context.Background(), walletAddr, 1, "")
		require.NoError(t, err)
		assert.Equal(t, scan.TypeWallet, result.Type)
		assert.NotNil(t, result.Wallet)
	})

	t.Run("probe failure defaults to wallet", func(t *testing.T) {
		e := newTestEngine(t, &fakeEth{codeErr: errors.New("rpc down")}, &fakeExplorer{}, &fakeSecurity{})
		result, err := e.Scan(context.Background(), walletAddr, 1, "")
		require.NoError(t, err)
		assert.Equal(t, scan.TypeWallet, result.Type)
	})

	t.Run("explicit type skips the probe", func(t *testing.T) {
		e := newTestEngine(t, &fakeEth{codeErr: errors.New("rpc down")}, &fakeExplorer{}, &fakeSecurity{})
		result, err := e.Scan(context.Background(), contractAddr, 1, scan.TypeContract)
		require.NoError(t, err)
		assert.Equal(t, scan.TypeContract, result.Type)
		assert.NotNil(t, result.Contract)
	})
}

func TestScanEndToEndEmptyWallet(t *testing.T) {
	// No contract code, no history, zero balance: the canonical
	// fresh-address scan.
	e := newTestEngine(t, &fakeEth{}, &fakeExplorer{}, &fakeSecurity{})

	result, err := e.Scan(context.Background(), walletAddr, 1, "")
	require.NoError(t, err)

	assert.Equal(t, "scan_test_1", result.ID)
	assert.Equal(t, scan.TypeWallet, result.Type)
	assert.Equal(t, common.HexToAddress(walletAddr).Hex(), result.Address)

	require.Len(t, result.Findings, 1)
	assert.Equal(t, "NO_HISTORY", result.Findings[0].Code)
	assert.Equal(t, scan.SeverityLow, result.Findings[0].Severity)
	assert.Equal(t, 5, result.Findings[0].Score)

	assert.Equal(t, 5, result.RiskScore)
	assert.Equal(t, scan.LevelSafe, result.RiskLevel)
	require.NotNil(t, result.Analysis)
	assert.NotEmpty(t, result.Analysis.Summary)
}

func TestScanDegradesWhenChainClientUnavailable(t *testing.T) {
	// A supported chain whose RPC endpoint cannot be dialed must
	// still scan from explorer and security data alone.
	reg := chain.NewRegistry([]chain.Info{
		{ID: 1, Name: "Ethereum", NativeSymbol: "ETH", RPCURL: "bogus://unreachable"},
	}, slog.Default())

	e := New(reg, map[int64]Explorer{1: &fakeExplorer{firstTx: agedFirstTx(100)}}, &fakeSecurity{}, fakeInterp{},
		WithClock(fixedNow),
		WithIDFunc(func(time.Time) string { return "scan_test_1" }),
	)

	result, err := e.Scan(context.Background(), walletAddr, 1, "")
	require.NoError(t, err)
	assert.Equal(t, scan.TypeWallet, result.Type)
	assert.Contains(t, result.Degraded, "rpc")
	require.NotNil(t, result.Wallet)
	assert.Equal(t, "0", result.Wallet.Balance)
	assert.NotEmpty(t, result.Wallet.FirstSeen)
}

func TestClassifyLogsThroughRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	e := newTestEngine(t, &fakeEth{codeErr: errors.New("rpc down")}, &fakeExplorer{}, &fakeSecurity{})
	ctx := logging.WithLogger(context.Background(), logger)

	_, err := e.Scan(ctx, walletAddr, 1, "")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "classification probe failed")
	assert.Contains(t, buf.String(), "chain_id=1")
}

func TestScanResultAlwaysComplete(t *testing.T) {
	// Every collaborator failing still yields a full result.
	e := newTestEngine(t, &fakeEth{codeErr: errors.New("down")},
		&fakeExplorer{
			sourceErr:   errors.New("down"),
			creationErr: errors.New("down"),
			firstTxErr:  errors.New("down"),
			recentErr:   errors.New("down"),
		},
		&fakeSecurity{tokenErr: errors.New("down"), addressErr: errors.New("down")},
	)

	result, err := e.Scan(context.Background(), walletAddr, 1, "")
	require.NoError(t, err)
	assert.Equal(t, scan.TypeWallet, result.Type)
	assert.NotNil(t, result.Wallet)
	assert.NotNil(t, result.Analysis)
	assert.Contains(t, result.Degraded, "explorer")
	assert.Contains(t, result.Degraded, "security")
}

func TestScanDeterminism(t *testing.T) {
	sec := &fakeSecurity{token: &goplus.TokenSecurity{
		Available:      true,
		IsHoneypot:     true,
		SellTaxPercent: 25,
		IsInDEX:        true,
		LPHolderCount:  3,
	}}

	e := newTestEngine(t, &fakeEth{code: []byte{0x60}}, &fakeExplorer{}, sec)

	first, err := e.Scan(context.Background(), contractAddr, 1, "")
	require.NoError(t, err)
	second, err := e.Scan(context.Background(), contractAddr, 1, "")
	require.NoError(t, err)

	assert.Equal(t, first.Findings, second.Findings)
	assert.Equal(t, first.RiskScore, second.RiskScore)
	assert.Equal(t, first.RiskLevel, second.RiskLevel)
}
