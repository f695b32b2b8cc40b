package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/chainguard/internal/chain"
	"github.com/mbd888/chainguard/internal/explorer"
	"github.com/mbd888/chainguard/internal/scan"
	"github.com/mbd888/chainguard/internal/traces"
)

// contractPipeline inspects a contract address for control-surface
// risks: unverified source, dangerous functions, proxy indirection,
// retained ownership, and recent deployment.
type contractPipeline struct {
	chain    ChainReader
	explorer Explorer
	timeouts Timeouts
	now      func() time.Time
	logger   *slog.Logger
}

// run executes the pipeline. Findings are appended in fixed step
// order: verification, dangerous functions, proxy, ownership, age.
// Every lookup failure degrades to an absent value.
func (p *contractPipeline) run(ctx context.Context, address string) ([]scan.Finding, *scan.ContractData, []string) {
	ctx, span := traces.StartSpan(ctx, "scanner.contractPipeline")
	defer span.End()

	data := &scan.ContractData{}
	var degraded []string

	// Independent lookups fan out; only the implementation
	// verification check waits on the proxy result.
	var (
		wg       sync.WaitGroup
		source   *explorer.Source
		proxy    chain.ProxyInfo
		owner    string
		creation *explorer.Creation

		sourceErr, ownerErr, creationErr error
	)

	if p.explorer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, p.timeouts.Explorer)
			defer cancel()
			source, sourceErr = p.explorer.ContractSource(cctx, address)
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, p.timeouts.Explorer)
			defer cancel()
			creation, creationErr = p.explorer.ContractCreation(cctx, address)
		}()
	}

	if p.chain != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, p.timeouts.RPC)
			defer cancel()
			proxy = p.chain.DetectProxy(cctx, address)
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, p.timeouts.RPC)
			defer cancel()
			owner, ownerErr = p.chain.Owner(cctx, address)
		}()
	}

	wg.Wait()

	if p.explorer == nil || sourceErr != nil {
		if sourceErr != nil {
			p.logger.Warn("contract source lookup degraded", "error", sourceErr)
		}
		source = &explorer.Source{}
		degraded = append(degraded, "explorer")
	}
	if p.explorer != nil && creationErr != nil {
		p.logger.Warn("contract creation lookup degraded", "error", creationErr)
		degraded = append(degraded, "explorer")
	}
	if ownerErr != nil {
		p.logger.Warn("owner lookup degraded", "error", ownerErr)
		degraded = append(degraded, "rpc")
	}

	var findings []scan.Finding

	// Step 1: verification
	data.Verified = source.Verified
	data.ContractName = source.ContractName
	data.CompilerVersion = source.CompilerVersion
	if !source.Verified {
		findings = append(findings, scan.Finding{
			Code:        "UNVERIFIED",
			Severity:    scan.SeverityMedium,
			Title:       "Unverified Source Code",
			Description: "Contract source code is not verified on the block explorer",
			Score:       15,
		})
	}

	// Step 2: dangerous function vocabulary against the verified ABI
	if names := source.FunctionNames(); len(names) > 0 {
		for _, rule := range functionRules {
			hits := rule.matches(names)
			if len(hits) == 0 {
				continue
			}
			data.DangerousFunctions = append(data.DangerousFunctions, hits...)
			findings = append(findings, scan.Finding{
				Code:        rule.code,
				Severity:    rule.severity,
				Title:       rule.title,
				Description: fmt.Sprintf("Function %q suggests %s", hits[0], rule.detail),
				Score:       rule.score,
			})
		}
	}

	// Step 3: proxy detection, then implementation verification
	if proxy.IsProxy {
		data.IsProxy = true
		data.ProxyType = proxy.Type
		data.Implementation = proxy.Implementation
		data.AdminAddress = proxy.Admin
		findings = append(findings, scan.Finding{
			Code:        "PROXY_CONTRACT",
			Severity:    scan.SeverityMedium,
			Title:       "Upgradeable Proxy",
			Description: fmt.Sprintf("Contract delegates to implementation %s via EIP-1967 slots", proxy.Implementation),
			Score:       10,
		})

		if source.Verified && p.explorer != nil {
			implVerified := p.implementationVerified(ctx, proxy.Implementation)
			if !implVerified {
				findings = append(findings, scan.Finding{
					Code:        "UNVERIFIED_IMPLEMENTATION",
					Severity:    scan.SeverityHigh,
					Title:       "Unverified Implementation",
					Description: fmt.Sprintf("Proxy implementation %s has no verified source code", proxy.Implementation),
					Score:       20,
				})
			}
		}
	}

	// Step 4: ownership
	if owner != "" && !chain.IsZeroAddress(owner) {
		data.Owner = owner
		findings = append(findings, scan.Finding{
			Code:        "OWNER_NOT_RENOUNCED",
			Severity:    scan.SeverityMedium,
			Title:       "Owner Not Renounced",
			Description: fmt.Sprintf("Contract owner %s retains privileged control", owner),
			Score:       12,
		})
	} else if owner != "" {
		data.OwnerRenounced = true
	}

	// Step 5: creation age, defaulting to "now" when unavailable
	createdAt := p.now()
	if creation != nil {
		data.Creator = creation.Creator
		data.CreationTx = creation.TxHash
		createdAt = creation.Timestamp
	}
	data.AgeDays = int(p.now().Sub(createdAt).Hours() / 24)
	if data.AgeDays < NewContractAgeDays {
		findings = append(findings, scan.Finding{
			Code:        "NEW_CONTRACT",
			Severity:    scan.SeverityLow,
			Title:       "Recently Deployed",
			Description: fmt.Sprintf("Contract is %d day(s) old", data.AgeDays),
			Score:       5,
		})
	}

	return findings, data, dedupe(degraded)
}

// implementationVerified checks the implementation's own verification
// record. Failures read as unverified so RPC trouble surfaces as the
// riskier interpretation.
func (p *contractPipeline) implementationVerified(ctx context.Context, implementation string) bool {
	cctx, cancel := context.WithTimeout(ctx, p.timeouts.Explorer)
	defer cancel()

	src, err := p.explorer.ContractSource(cctx, implementation)
	if err != nil {
		p.logger.Warn("implementation source lookup degraded", "error", err)
		return false
	}
	return src.Verified
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		key := strings.ToLower(s)
		if !seen[key] {
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}
