package scanner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mbd888/chainguard/internal/goplus"
	"github.com/mbd888/chainguard/internal/scan"
	"github.com/mbd888/chainguard/internal/traces"
)

// Token pipeline thresholds, on the 0-100 percent scale.
const (
	highSellTaxPercent   = 20
	mediumSellTaxPercent = 10
	highBuyTaxPercent    = 10
	highConcentration    = 50
	mediumConcentration  = 30
)

// tokenPipeline evaluates fungible-token risk from on-chain metadata
// and third-party security attributes.
type tokenPipeline struct {
	chain    ChainReader
	security Security
	timeouts Timeouts
	logger   *slog.Logger
}

// run executes the pipeline. Security attribute findings follow a
// fixed order: honeypot, sell tax, buy tax, liquidity, concentration,
// mintability, exchange listing. A provider with no data at all emits
// the single compensating NO_SECURITY_DATA finding instead.
func (p *tokenPipeline) run(ctx context.Context, address string, chainID int64) ([]scan.Finding, *scan.TokenData, []string) {
	ctx, span := traces.StartSpan(ctx, "scanner.tokenPipeline")
	defer span.End()

	data := &scan.TokenData{
		Name:        "Unknown",
		Symbol:      "UNKNOWN",
		Decimals:    18,
		TotalSupply: "0",
	}
	var degraded []string

	if p.chain != nil {
		cctx, cancel := context.WithTimeout(ctx, p.timeouts.RPC)
		md := p.chain.TokenMetadata(cctx, address)
		cancel()
		data.Name = md.Name
		data.Symbol = md.Symbol
		data.Decimals = md.Decimals
		data.TotalSupply = md.TotalSupply
	}

	sec := p.fetchSecurity(ctx, chainID, address, &degraded)
	if sec == nil || !sec.Available {
		findings := []scan.Finding{{
			Code:        "NO_SECURITY_DATA",
			Severity:    scan.SeverityMedium,
			Title:       "No Security Data",
			Description: "No token security data is available for this address; risk cannot be fully assessed",
			Score:       15,
		}}
		return findings, data, degraded
	}

	if sec.Name != "" {
		data.Name = sec.Name
	}
	if sec.Symbol != "" {
		data.Symbol = sec.Symbol
	}
	data.DataAvailable = true
	data.IsHoneypot = sec.IsHoneypot
	data.BuyTaxPercent = sec.BuyTaxPercent
	data.SellTaxPercent = sec.SellTaxPercent
	data.IsMintable = sec.IsMintable
	data.IsInDEX = sec.IsInDEX
	data.LPHolderCount = sec.LPHolderCount
	data.HolderCount = sec.HolderCount
	data.TopHolderShare = sec.TopHolderShare()
	for _, h := range sec.TopHolders {
		data.TopHolders = append(data.TopHolders, scan.Holder{
			Address:  h.Address,
			Percent:  h.Percent,
			IsLocked: h.IsLocked,
		})
	}

	var findings []scan.Finding

	if sec.IsHoneypot {
		findings = append(findings, scan.Finding{
			Code:        "HONEYPOT",
			Severity:    scan.SeverityCritical,
			Title:       "Honeypot Detected",
			Description: "Token purchases succeed but sales are blocked",
			Score:       40,
		})
	}

	switch {
	case sec.SellTaxPercent > highSellTaxPercent:
		findings = append(findings, scan.Finding{
			Code:        "HIGH_SELL_TAX",
			Severity:    scan.SeverityHigh,
			Title:       "High Sell Tax",
			Description: fmt.Sprintf("Sell tax is %.1f%%", sec.SellTaxPercent),
			Score:       25,
		})
	case sec.SellTaxPercent > mediumSellTaxPercent:
		findings = append(findings, scan.Finding{
			Code:        "MEDIUM_SELL_TAX",
			Severity:    scan.SeverityMedium,
			Title:       "Elevated Sell Tax",
			Description: fmt.Sprintf("Sell tax is %.1f%%", sec.SellTaxPercent),
			Score:       15,
		})
	}

	if sec.BuyTaxPercent > highBuyTaxPercent {
		findings = append(findings, scan.Finding{
			Code:        "HIGH_BUY_TAX",
			Severity:    scan.SeverityMedium,
			Title:       "High Buy Tax",
			Description: fmt.Sprintf("Buy tax is %.1f%%", sec.BuyTaxPercent),
			Score:       10,
		})
	}

	if sec.LPHolderCount == 0 {
		findings = append(findings, scan.Finding{
			Code:        "LP_NOT_LOCKED",
			Severity:    scan.SeverityHigh,
			Title:       "Liquidity Not Locked",
			Description: "No liquidity provider holders found; liquidity can be withdrawn at any time",
			Score:       20,
		})
	}

	share := sec.TopHolderShare()
	switch {
	case share > highConcentration:
		findings = append(findings, scan.Finding{
			Code:        "CONCENTRATED_HOLDINGS",
			Severity:    scan.SeverityHigh,
			Title:       "Concentrated Holdings",
			Description: fmt.Sprintf("Top holder controls %.1f%% of the supply", share),
			Score:       20,
		})
	case share > mediumConcentration:
		findings = append(findings, scan.Finding{
			Code:        "CONCENTRATED_HOLDINGS",
			Severity:    scan.SeverityMedium,
			Title:       "Concentrated Holdings",
			Description: fmt.Sprintf("Top holder controls %.1f%% of the supply", share),
			Score:       12,
		})
	}

	if sec.IsMintable {
		findings = append(findings, scan.Finding{
			Code:        "MINTABLE_TOKEN",
			Severity:    scan.SeverityHigh,
			Title:       "Mintable Token",
			Description: "Token supply can be increased after launch",
			Score:       18,
		})
	}

	if !sec.IsInDEX {
		findings = append(findings, scan.Finding{
			Code:        "NOT_IN_DEX",
			Severity:    scan.SeverityMedium,
			Title:       "Not Listed on Any Exchange",
			Description: "Token is not listed on any decentralized exchange",
			Score:       10,
		})
	}

	return findings, data, degraded
}

func (p *tokenPipeline) fetchSecurity(ctx context.Context, chainID int64, address string, degraded *[]string) *goplus.TokenSecurity {
	if p.security == nil {
		*degraded = append(*degraded, "security")
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeouts.Security)
	defer cancel()

	sec, err := p.security.TokenSecurity(cctx, chainID, address)
	if err != nil {
		p.logger.Warn("token security lookup degraded", "error", err)
		*degraded = append(*degraded, "security")
		return nil
	}
	return sec
}
