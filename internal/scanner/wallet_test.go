package scanner

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/chainguard/internal/explorer"
	"github.com/mbd888/chainguard/internal/goplus"
	"github.com/mbd888/chainguard/internal/scan"
)

func newWalletPipeline(c ChainReader, e Explorer, s Security) walletPipeline {
	return walletPipeline{
		chain:    c,
		explorer: e,
		security: s,
		timeouts: DefaultTimeouts(),
		now:      fixedNow,
		logger:   slog.Default(),
	}
}

func agedFirstTx(days int) *explorer.Tx {
	return &explorer.Tx{
		Hash:      "0xfirst",
		From:      walletAddr,
		To:        "0xsomeone",
		Timestamp: fixedNow().Add(-time.Duration(days) * 24 * time.Hour),
	}
}

func TestWalletPipelineNoHistory(t *testing.T) {
	p := newWalletPipeline(&fakeChain{balance: "0"}, &fakeExplorer{}, &fakeSecurity{})
	findings, data, _ := p.run(context.Background(), walletAddr, 1)

	require.Len(t, findings, 1)
	assert.Equal(t, "NO_HISTORY", findings[0].Code)
	assert.Equal(t, 5, findings[0].Score)
	assert.Equal(t, "0", data.Balance)
	assert.Zero(t, data.TransactionCount)
}

func TestWalletPipelineNoHistoryNeedsZeroNonce(t *testing.T) {
	// Explorer history being unavailable is not the same as the
	// address having none: a nonzero nonce proves activity, so the
	// degraded lookup must not fire NO_HISTORY.
	p := newWalletPipeline(
		&fakeChain{balance: "2", nonce: 10},
		&fakeExplorer{firstTxErr: errors.New("explorer down"), recentErr: errors.New("explorer down")},
		&fakeSecurity{},
	)
	findings, data, degraded := p.run(context.Background(), walletAddr, 1)

	assert.Empty(t, findings)
	assert.Equal(t, 10, data.TransactionCount)
	assert.Contains(t, degraded, "explorer")
}

func TestWalletPipelineSeenTimestamps(t *testing.T) {
	recent := []explorer.Tx{
		{Hash: "0xnew", From: walletAddr, To: "0xsomeone", Timestamp: fixedNow().Add(-2 * time.Hour)},
		{Hash: "0xold", From: "0xsomeone", To: walletAddr, Timestamp: fixedNow().Add(-48 * time.Hour)},
	}
	p := newWalletPipeline(
		&fakeChain{balance: "1", nonce: 5},
		&fakeExplorer{firstTx: agedFirstTx(30), recent: recent},
		&fakeSecurity{},
	)
	_, data, _ := p.run(context.Background(), walletAddr, 1)

	assert.Equal(t, agedFirstTx(30).Timestamp.UTC().Format(time.RFC3339), data.FirstSeen)
	assert.Equal(t, recent[0].Timestamp.UTC().Format(time.RFC3339), data.LastSeen)
}

func TestWalletPipelineNewWallet(t *testing.T) {
	p := newWalletPipeline(
		&fakeChain{balance: "1.5", nonce: 3},
		&fakeExplorer{firstTx: agedFirstTx(2)},
		&fakeSecurity{},
	)
	findings, data, _ := p.run(context.Background(), walletAddr, 1)

	require.Len(t, findings, 1)
	assert.Equal(t, "NEW_WALLET", findings[0].Code)
	assert.Equal(t, 2, data.AgeDays)
	assert.Equal(t, 3, data.TransactionCount)
}

func TestWalletPipelineHistoryFindingsExclusive(t *testing.T) {
	// An old wallet fires neither NO_HISTORY nor NEW_WALLET
	p := newWalletPipeline(
		&fakeChain{balance: "10", nonce: 50},
		&fakeExplorer{firstTx: agedFirstTx(200)},
		&fakeSecurity{},
	)
	findings, _, _ := p.run(context.Background(), walletAddr, 1)
	assert.Empty(t, findings)
}

func TestWalletPipelineScamFlags(t *testing.T) {
	sec := &fakeSecurity{address: &goplus.AddressSecurity{
		Available:       true,
		Blacklisted:     true,
		MoneyLaundering: true,
	}}
	p := newWalletPipeline(&fakeChain{nonce: 20}, &fakeExplorer{firstTx: agedFirstTx(100)}, sec)
	findings, data, _ := p.run(context.Background(), walletAddr, 1)

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "SCAM_DATABASE", f.Code)
	assert.Equal(t, scan.SeverityCritical, f.Severity)
	assert.Equal(t, 40, f.Score)
	assert.Contains(t, f.Description, "blacklisted")
	assert.Contains(t, f.Description, "money laundering")
	assert.True(t, data.IsFlagged)
}

func TestWalletPipelineMixerConnection(t *testing.T) {
	recent := []explorer.Tx{
		{Hash: "0xaaa", From: walletAddr, To: "0x12D66f87A04A9E220743712cE6d9bB1B5616B8Fc", Timestamp: fixedNow()},
		{Hash: "0xbbb", From: walletAddr, To: "0xclean", Timestamp: fixedNow()},
		{Hash: "0xccc", From: "0x910Cbd523D972eb0a6f4cAe4618aD62622b39DbF", To: walletAddr, Timestamp: fixedNow()},
	}
	p := newWalletPipeline(
		&fakeChain{nonce: 25},
		&fakeExplorer{firstTx: agedFirstTx(100), recent: recent},
		&fakeSecurity{},
	)
	findings, data, _ := p.run(context.Background(), walletAddr, 1)

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "MIXER_CONNECTION", f.Code)
	assert.Equal(t, 25, f.Score)
	assert.Contains(t, f.Description, "0xaaa")
	assert.Contains(t, f.Description, "0xccc")
	assert.Equal(t, []string{"0xaaa", "0xccc"}, data.MixerTxHashes)
}

func TestWalletPipelineHighVolume(t *testing.T) {
	p := newWalletPipeline(
		&fakeChain{nonce: 1500},
		&fakeExplorer{firstTx: agedFirstTx(100)},
		&fakeSecurity{},
	)
	findings, _, _ := p.run(context.Background(), walletAddr, 1)

	require.Len(t, findings, 1)
	assert.Equal(t, "HIGH_TX_VOLUME", findings[0].Code)
	assert.Equal(t, scan.SeverityLow, findings[0].Severity)
	assert.Equal(t, 5, findings[0].Score)
}

func TestWalletReputation(t *testing.T) {
	tests := []struct {
		name string
		data scan.WalletData
		want int
	}{
		{"baseline", scan.WalletData{TransactionCount: 50}, 50},
		{"mature active wallet", scan.WalletData{AgeDays: 400, TransactionCount: 150}, 80},
		{"half-year-old wallet", scan.WalletData{AgeDays: 200, TransactionCount: 50}, 60},
		{"fresh sparse wallet", scan.WalletData{AgeDays: 3, TransactionCount: 2}, 40},
		{"flagged old whale", scan.WalletData{AgeDays: 700, TransactionCount: 300, IsFlagged: true}, 40},
		{"mixer user", scan.WalletData{AgeDays: 400, TransactionCount: 150, MixerTxHashes: []string{"0x1"}}, 60},
		{"worst case clamps at zero", scan.WalletData{AgeDays: 1, TransactionCount: 1, IsFlagged: true, MixerTxHashes: []string{"0x1"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reputation(&tt.data))
		})
	}
}

func TestWalletPipelineFindingOrder(t *testing.T) {
	// All four signals at once keep step order
	sec := &fakeSecurity{address: &goplus.AddressSecurity{Available: true, Cybercrime: true}}
	recent := []explorer.Tx{
		{Hash: "0xmix", From: walletAddr, To: "0xA160cdAB225685dA1d56aa342Ad8841c3b53f291", Timestamp: fixedNow()},
	}
	p := newWalletPipeline(
		&fakeChain{nonce: 2000},
		&fakeExplorer{firstTx: agedFirstTx(3), recent: recent},
		sec,
	)
	findings, _, _ := p.run(context.Background(), walletAddr, 1)

	var got []string
	for _, f := range findings {
		got = append(got, f.Code)
	}
	assert.Equal(t, []string{"NEW_WALLET", "SCAM_DATABASE", "MIXER_CONNECTION", "HIGH_TX_VOLUME"}, got)
}
