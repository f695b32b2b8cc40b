// Package scanner implements the risk assessment orchestration engine.
//
// A scan classifies an address into contract, token, or wallet, runs
// the matching detector pipeline against the chain, explorer, and
// security data collaborators, fuses the weighted findings into a
// bounded risk score, and attaches an interpretation. Only address and
// chain validation are fatal; every collaborator failure degrades to
// an absent value so a scan always completes.
package scanner

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/chainguard/internal/chain"
	"github.com/mbd888/chainguard/internal/explorer"
	"github.com/mbd888/chainguard/internal/goplus"
	"github.com/mbd888/chainguard/internal/idgen"
	"github.com/mbd888/chainguard/internal/logging"
	"github.com/mbd888/chainguard/internal/metrics"
	"github.com/mbd888/chainguard/internal/scan"
	"github.com/mbd888/chainguard/internal/traces"
)

var (
	ErrInvalidAddress   = errors.New("scanner: invalid address")
	ErrUnsupportedChain = errors.New("scanner: unsupported chain")
	ErrInvalidScanType  = errors.New("scanner: invalid scan type")
)

// NewContractAgeDays is the threshold under which a contract or wallet
// counts as newly created.
const NewContractAgeDays = 7

// ChainReader is the per-chain read surface pipelines consume.
// *chain.Client satisfies it.
type ChainReader interface {
	HasCode(ctx context.Context, address string) (bool, error)
	Balance(ctx context.Context, address string) (string, error)
	Nonce(ctx context.Context, address string) (uint64, error)
	Owner(ctx context.Context, address string) (string, error)
	DetectProxy(ctx context.Context, address string) chain.ProxyInfo
	TokenMetadata(ctx context.Context, address string) chain.TokenMetadata
}

// Explorer is the block explorer surface pipelines consume.
// *explorer.Client satisfies it.
type Explorer interface {
	ContractSource(ctx context.Context, address string) (*explorer.Source, error)
	ContractCreation(ctx context.Context, address string) (*explorer.Creation, error)
	FirstTransaction(ctx context.Context, address string) (*explorer.Tx, error)
	RecentTransactions(ctx context.Context, address string, limit int) ([]explorer.Tx, error)
}

// Security is the reputation data surface pipelines consume.
// *goplus.Client satisfies it.
type Security interface {
	TokenSecurity(ctx context.Context, chainID int64, address string) (*goplus.TokenSecurity, error)
	AddressSecurity(ctx context.Context, chainID int64, address string) (*goplus.AddressSecurity, error)
}

// Interpreter produces the natural-language layer of a result.
// *interpret.Service satisfies it.
type Interpreter interface {
	Analyze(ctx context.Context, result *scan.Result) *scan.Interpretation
}

// Timeouts bounds each class of external call. A stuck collaborator
// degrades exactly like a failed one.
type Timeouts struct {
	RPC      time.Duration
	Explorer time.Duration
	Security time.Duration
}

// DefaultTimeouts mirrors the collaborators' own client timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		RPC:      10 * time.Second,
		Explorer: 10 * time.Second,
		Security: 15 * time.Second,
	}
}

// Engine is the scan orchestrator. It logs through the request
// context via logging.Scan rather than holding its own logger.
type Engine struct {
	chains      *chain.Registry
	explorers   map[int64]Explorer
	security    Security
	interpreter Interpreter
	timeouts    Timeouts
	now         func() time.Time
	newID       func(time.Time) string
}

// Option configures the engine.
type Option func(*Engine)

// WithTimeouts overrides the per-call timeout budget.
func WithTimeouts(t Timeouts) Option {
	return func(e *Engine) {
		e.timeouts = t
	}
}

// WithClock sets the time source (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDFunc sets the scan ID generator (useful for testing).
func WithIDFunc(fn func(time.Time) string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// New creates a scan engine over the given collaborators. Explorers
// are keyed by chain ID; a chain without an explorer entry degrades
// all explorer-backed checks for scans on that chain.
func New(chains *chain.Registry, explorers map[int64]Explorer, security Security, interpreter Interpreter, opts ...Option) *Engine {
	e := &Engine{
		chains:      chains,
		explorers:   explorers,
		security:    security,
		interpreter: interpreter,
		timeouts:    DefaultTimeouts(),
		now:         time.Now,
		newID:       idgen.ScanID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Chains lists the supported chain catalog.
func (e *Engine) Chains() []chain.Info {
	return e.chains.Chains()
}

// Scan assesses one address. requested may be empty, in which case the
// engine classifies the address by probing for contract bytecode.
// Invalid input is the only fatal path; collaborator failures degrade.
func (e *Engine) Scan(ctx context.Context, address string, chainID int64, requested scan.Type) (*scan.Result, error) {
	if !common.IsHexAddress(address) {
		return nil, ErrInvalidAddress
	}
	if !e.chains.Supported(chainID) {
		return nil, ErrUnsupportedChain
	}
	switch requested {
	case "", scan.TypeContract, scan.TypeToken, scan.TypeWallet:
	default:
		return nil, ErrInvalidScanType
	}

	start := e.now()
	normalized := common.HexToAddress(address).Hex()
	ctx, span := traces.StartSpan(ctx, "scanner.Scan", traces.Address(normalized), traces.ChainID(chainID))
	defer span.End()
	log := logging.Scan(ctx, normalized, chainID)

	var degraded []string
	// reader stays a nil interface on failure; assigning the typed
	// client pointer first would defeat the pipelines' nil checks.
	var reader ChainReader
	if client, err := e.chains.Client(chainID); err != nil {
		// Chain reads degrade for the whole scan; the result is
		// still produced from explorer and security data alone.
		log.Warn("chain client unavailable, degrading RPC reads", "error", err)
		degraded = append(degraded, "rpc")
	} else {
		reader = client
	}

	scanType := requested
	if scanType == "" {
		scanType = e.classify(ctx, reader, normalized, log)
	}

	result := &scan.Result{
		ID:        e.newID(start),
		Address:   normalized,
		ChainID:   chainID,
		Type:      scanType,
		Timestamp: start.UTC(),
	}

	exp := e.explorers[chainID]
	var findings []scan.Finding
	var pipelineDegraded []string

	switch scanType {
	case scan.TypeContract:
		p := contractPipeline{chain: reader, explorer: exp, timeouts: e.timeouts, now: e.now, logger: log}
		findings, result.Contract, pipelineDegraded = p.run(ctx, normalized)
	case scan.TypeToken:
		p := tokenPipeline{chain: reader, security: e.security, timeouts: e.timeouts, logger: log}
		findings, result.Token, pipelineDegraded = p.run(ctx, normalized, chainID)
	case scan.TypeWallet:
		p := walletPipeline{chain: reader, explorer: exp, security: e.security, timeouts: e.timeouts, now: e.now, logger: log}
		findings, result.Wallet, pipelineDegraded = p.run(ctx, normalized, chainID)
	}

	if findings == nil {
		findings = []scan.Finding{}
	}
	result.Findings = findings
	result.Degraded = append(degraded, pipelineDegraded...)
	result.RiskScore = scan.TotalScore(findings)
	result.RiskLevel = scan.LevelFor(result.RiskScore)

	// Interpretation never blocks completion; the service degrades
	// internally to its rule-based path.
	result.Analysis = e.interpreter.Analyze(ctx, result)

	result.DurationMS = e.now().Sub(start).Milliseconds()
	span.SetAttributes(traces.ScanID(result.ID), traces.ScanType(string(result.Type)), traces.RiskScore(result.RiskScore))
	e.record(result)
	log.Info("scan completed",
		"scan_id", result.ID,
		"type", result.Type,
		"score", result.RiskScore,
		"level", result.RiskLevel,
		"findings", len(result.Findings),
		"duration_ms", result.DurationMS,
	)
	return result, nil
}

func (e *Engine) record(result *scan.Result) {
	chainLabel := strconv.FormatInt(result.ChainID, 10)
	metrics.ScansTotal.WithLabelValues(chainLabel, string(result.Type), string(result.RiskLevel)).Inc()
	metrics.ScanDuration.WithLabelValues(string(result.Type)).Observe(float64(result.DurationMS) / 1000)
	for _, f := range result.Findings {
		metrics.FindingsTotal.WithLabelValues(f.Code, string(f.Severity)).Inc()
	}
	for _, source := range result.Degraded {
		metrics.ScanDegradedTotal.WithLabelValues(source).Inc()
	}
	if result.Analysis != nil {
		mode := "rules"
		if result.Analysis.AIGenerated {
			mode = "ai"
		}
		metrics.AIInterpretationsTotal.WithLabelValues(mode).Inc()
	}
}

// classify probes for bytecode. Code-bearing addresses are scanned as
// tokens; plain contracts degrade to placeholder token metadata rather
// than getting their own category. A failed probe defaults to wallet,
// never to an error.
func (e *Engine) classify(ctx context.Context, reader ChainReader, address string, log *slog.Logger) scan.Type {
	if reader == nil {
		return scan.TypeWallet
	}
	cctx, cancel := context.WithTimeout(ctx, e.timeouts.RPC)
	defer cancel()

	hasCode, err := reader.HasCode(cctx, address)
	if err != nil {
		log.Debug("classification probe failed, defaulting to wallet", "error", err)
		return scan.TypeWallet
	}
	if hasCode {
		return scan.TypeToken
	}
	return scan.TypeWallet
}
