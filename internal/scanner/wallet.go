package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/chainguard/internal/explorer"
	"github.com/mbd888/chainguard/internal/goplus"
	"github.com/mbd888/chainguard/internal/scan"
	"github.com/mbd888/chainguard/internal/traces"
)

// Wallet pipeline thresholds and reputation adjustments.
const (
	highTxVolume       = 1000
	mixerLookbackTxs   = 100
	reputationBase     = 50
	repAgeOverYear     = 20
	repAgeOverHalfYear = 10
	repActiveBonus     = 10
	repInactivePenalty = 10
	repScamPenalty     = 40
	repMixerPenalty    = 20
)

// walletPipeline evaluates an externally-owned account's history and
// reputation signals.
type walletPipeline struct {
	chain    ChainReader
	explorer Explorer
	security Security
	timeouts Timeouts
	now      func() time.Time
	logger   *slog.Logger
}

// run executes the pipeline. Finding order is fixed: history, scam
// database, mixer exposure, transaction volume.
func (p *walletPipeline) run(ctx context.Context, address string, chainID int64) ([]scan.Finding, *scan.WalletData, []string) {
	ctx, span := traces.StartSpan(ctx, "scanner.walletPipeline")
	defer span.End()

	data := &scan.WalletData{Balance: "0"}
	var degraded []string

	if p.chain != nil {
		cctx, cancel := context.WithTimeout(ctx, p.timeouts.RPC)
		if balance, err := p.chain.Balance(cctx, address); err == nil {
			data.Balance = balance
		} else {
			p.logger.Warn("balance lookup degraded", "error", err)
			degraded = append(degraded, "rpc")
		}
		cancel()

		cctx, cancel = context.WithTimeout(ctx, p.timeouts.RPC)
		if nonce, err := p.chain.Nonce(cctx, address); err == nil {
			data.TransactionCount = int(nonce)
		} else {
			p.logger.Warn("nonce lookup degraded", "error", err)
			degraded = append(degraded, "rpc")
		}
		cancel()
	}

	firstTx, recent := p.fetchHistory(ctx, address, &degraded)
	security := p.fetchSecurity(ctx, chainID, address, &degraded)

	// recent is newest-first, so its head is the last activity.
	if len(recent) > 0 {
		data.LastSeen = recent[0].Timestamp.UTC().Format(time.RFC3339)
	}

	var findings []scan.Finding

	// Step 1: history. NO_HISTORY and NEW_WALLET are mutually
	// exclusive: one fires for empty history, the other for young
	// history.
	if firstTx == nil && data.TransactionCount == 0 {
		findings = append(findings, scan.Finding{
			Code:        "NO_HISTORY",
			Severity:    scan.SeverityLow,
			Title:       "No Transaction History",
			Description: "Address has no on-chain transaction history",
			Score:       5,
		})
	} else if firstTx != nil {
		data.FirstSeen = firstTx.Timestamp.UTC().Format(time.RFC3339)
		data.AgeDays = int(p.now().Sub(firstTx.Timestamp).Hours() / 24)
		if data.AgeDays < NewContractAgeDays {
			findings = append(findings, scan.Finding{
				Code:        "NEW_WALLET",
				Severity:    scan.SeverityLow,
				Title:       "New Wallet",
				Description: fmt.Sprintf("Wallet first transacted %d day(s) ago", data.AgeDays),
				Score:       5,
			})
		}
	}

	// Step 2: scam database flags
	if security != nil {
		if reasons := security.Flags(); len(reasons) > 0 {
			data.IsFlagged = true
			data.FlagReasons = reasons
			findings = append(findings, scan.Finding{
				Code:        "SCAM_DATABASE",
				Severity:    scan.SeverityCritical,
				Title:       "Flagged in Scam Database",
				Description: "Address is flagged for: " + strings.Join(reasons, ", "),
				Score:       40,
			})
		}
	}

	// Step 3: mixer exposure in recent counterparties
	if hashes := mixerTxHashes(address, recent); len(hashes) > 0 {
		data.MixerTxHashes = hashes
		findings = append(findings, scan.Finding{
			Code:        "MIXER_CONNECTION",
			Severity:    scan.SeverityHigh,
			Title:       "Mixer Service Exposure",
			Description: "Transacted with known mixer services in: " + strings.Join(hashes, ", "),
			Score:       25,
		})
	}

	// Step 4: transaction volume
	if data.TransactionCount > highTxVolume {
		findings = append(findings, scan.Finding{
			Code:        "HIGH_TX_VOLUME",
			Severity:    scan.SeverityLow,
			Title:       "High Transaction Volume",
			Description: fmt.Sprintf("%d transactions suggests bot or high-frequency activity", data.TransactionCount),
			Score:       5,
		})
	}

	data.ReputationScore = reputation(data)

	return findings, data, dedupe(degraded)
}

// reputation derives the informational [0,100] score. It does not
// feed the overall risk score.
func reputation(data *scan.WalletData) int {
	score := reputationBase

	switch {
	case data.AgeDays > 365:
		score += repAgeOverYear
	case data.AgeDays > 180:
		score += repAgeOverHalfYear
	}

	if data.TransactionCount > 100 {
		score += repActiveBonus
	} else if data.TransactionCount < 10 {
		score -= repInactivePenalty
	}

	if data.IsFlagged {
		score -= repScamPenalty
	}
	if len(data.MixerTxHashes) > 0 {
		score -= repMixerPenalty
	}

	return scan.ClampScore(score)
}

// mixerTxHashes returns hashes of transactions whose counterparty is a
// known mixer address.
func mixerTxHashes(address string, txs []explorer.Tx) []string {
	var hashes []string
	for _, tx := range txs {
		counterparty := tx.To
		if !strings.EqualFold(tx.From, address) {
			counterparty = tx.From
		}
		if IsMixerAddress(counterparty) {
			hashes = append(hashes, tx.Hash)
		}
	}
	return hashes
}

func (p *walletPipeline) fetchHistory(ctx context.Context, address string, degraded *[]string) (*explorer.Tx, []explorer.Tx) {
	if p.explorer == nil {
		*degraded = append(*degraded, "explorer")
		return nil, nil
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeouts.Explorer)
	firstTx, err := p.explorer.FirstTransaction(cctx, address)
	cancel()
	if err != nil {
		p.logger.Warn("first transaction lookup degraded", "error", err)
		*degraded = append(*degraded, "explorer")
		firstTx = nil
	}

	cctx, cancel = context.WithTimeout(ctx, p.timeouts.Explorer)
	recent, err := p.explorer.RecentTransactions(cctx, address, mixerLookbackTxs)
	cancel()
	if err != nil {
		p.logger.Warn("recent transactions lookup degraded", "error", err)
		*degraded = append(*degraded, "explorer")
		recent = nil
	}

	return firstTx, recent
}

func (p *walletPipeline) fetchSecurity(ctx context.Context, chainID int64, address string, degraded *[]string) *goplus.AddressSecurity {
	if p.security == nil {
		*degraded = append(*degraded, "security")
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeouts.Security)
	defer cancel()

	sec, err := p.security.AddressSecurity(cctx, chainID, address)
	if err != nil {
		p.logger.Warn("address security lookup degraded", "error", err)
		*degraded = append(*degraded, "security")
		return nil
	}
	return sec
}
