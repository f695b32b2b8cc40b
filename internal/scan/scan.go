// Package scan defines the risk assessment domain model shared by the
// scanning pipelines, the interpretation layer, and the HTTP API.
//
// A scan evaluates a single blockchain address and produces a Result:
// a set of weighted findings, an aggregate risk score in [0, 100], a
// risk level band, and an interpretation (AI-generated or rule-based).
package scan

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/chainguard/internal/pagination"
)

var (
	ErrNotFound = errors.New("scan: not found")
)

// Type classifies the scanned address.
type Type string

const (
	TypeContract Type = "contract"
	TypeToken    Type = "token"
	TypeWallet   Type = "wallet"
)

// Severity grades an individual finding.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Level is the aggregate risk band derived from the total score.
type Level string

const (
	LevelSafe     Level = "SAFE"
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Recommendation is the action suggested to the caller.
type Recommendation string

const (
	RecommendSafe    Recommendation = "SAFE"
	RecommendCaution Recommendation = "CAUTION"
	RecommendAvoid   Recommendation = "AVOID"
	RecommendBlock   Recommendation = "BLOCK"
)

// Finding is a single detected risk pattern. Score is the weight this
// finding contributes to the aggregate risk score.
type Finding struct {
	Code        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Score       int      `json:"score"`
}

// Holder is one entry in a token's top-holder distribution.
type Holder struct {
	Address  string  `json:"address"`
	Percent  float64 `json:"percent"`
	IsLocked bool    `json:"isLocked"`
}

// ContractData captures what the contract pipeline learned on-chain
// and from the block explorer.
type ContractData struct {
	Verified           bool     `json:"verified"`
	ContractName       string   `json:"contractName,omitempty"`
	CompilerVersion    string   `json:"compilerVersion,omitempty"`
	IsProxy            bool     `json:"isProxy"`
	ProxyType          string   `json:"proxyType,omitempty"`
	Implementation     string   `json:"implementation,omitempty"`
	AdminAddress       string   `json:"adminAddress,omitempty"`
	Owner              string   `json:"owner,omitempty"`
	OwnerRenounced     bool     `json:"ownerRenounced"`
	Creator            string   `json:"creator,omitempty"`
	CreationTx         string   `json:"creationTx,omitempty"`
	AgeDays            int      `json:"ageDays"`
	DangerousFunctions []string `json:"dangerousFunctions,omitempty"`
}

// TokenData captures token security attributes from the security data
// provider, normalized to Go types.
type TokenData struct {
	Name           string   `json:"name"`
	Symbol         string   `json:"symbol"`
	Decimals       uint8    `json:"decimals"`
	TotalSupply    string   `json:"totalSupply"`
	IsHoneypot     bool     `json:"isHoneypot"`
	BuyTaxPercent  float64  `json:"buyTax"`
	SellTaxPercent float64  `json:"sellTax"`
	IsMintable     bool     `json:"isMintable"`
	IsInDEX        bool     `json:"isInDex"`
	LPHolderCount  int      `json:"lpHolderCount"`
	HolderCount    int      `json:"holderCount"`
	TopHolderShare float64  `json:"topHolderShare"`
	TopHolders     []Holder `json:"topHolders,omitempty"`
	DataAvailable  bool     `json:"dataAvailable"`
}

// WalletData captures the wallet pipeline's view of account history
// and reputation signals.
type WalletData struct {
	Balance          string   `json:"balance"`
	TransactionCount int      `json:"transactionCount"`
	AgeDays          int      `json:"ageDays"`
	FirstSeen        string   `json:"firstSeen,omitempty"`
	LastSeen         string   `json:"lastSeen,omitempty"`
	IsFlagged        bool     `json:"isFlagged"`
	FlagReasons      []string `json:"flagReasons,omitempty"`
	MixerTxHashes    []string `json:"mixerTxHashes,omitempty"`
	ReputationScore  int      `json:"reputationScore"`
}

// Interpretation is the human-readable assessment layered on top of
// the findings. AIGenerated is false when the rule-based fallback
// produced it.
type Interpretation struct {
	Summary        string         `json:"summary"`
	TopRisks       []string       `json:"topRisks"`
	Reasoning      string         `json:"reasoning"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	AIGenerated    bool           `json:"aiGenerated"`
}

// Result is the complete outcome of one scan.
type Result struct {
	ID         string          `json:"id"`
	Address    string          `json:"address"`
	ChainID    int64           `json:"chainId"`
	Type       Type            `json:"type"`
	RiskScore  int             `json:"riskScore"`
	RiskLevel  Level           `json:"riskLevel"`
	Findings   []Finding       `json:"risks"`
	Contract   *ContractData   `json:"contractData,omitempty"`
	Token      *TokenData      `json:"tokenData,omitempty"`
	Wallet     *WalletData     `json:"walletData,omitempty"`
	Analysis   *Interpretation `json:"aiAnalysis,omitempty"`
	Degraded   []string        `json:"degraded,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	DurationMS int64           `json:"durationMs"`
}

// ClampScore bounds a raw score sum to the [0, 100] scale.
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// LevelFor maps a clamped score to its risk band.
func LevelFor(score int) Level {
	switch {
	case score <= 25:
		return LevelSafe
	case score <= 50:
		return LevelLow
	case score <= 75:
		return LevelMedium
	case score <= 90:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// TotalScore sums finding weights and clamps to the scale.
func TotalScore(findings []Finding) int {
	total := 0
	for _, f := range findings {
		total += f.Score
	}
	return ClampScore(total)
}

// Store persists completed scans for later retrieval.
type Store interface {
	Save(ctx context.Context, result *Result) error
	Get(ctx context.Context, id string) (*Result, error)
	ListByAddress(ctx context.Context, address string, limit int, opts ...ListOption) ([]*Result, error)
}

// ListOption configures optional parameters for list queries.
type ListOption func(*listOpts)

type listOpts struct {
	cursor *pagination.Cursor
}

func applyListOpts(opts []ListOption) listOpts {
	var o listOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithCursor filters results to scans older than the given cursor
// position. Malformed cursors are ignored.
func WithCursor(cursor string) ListOption {
	return func(o *listOpts) {
		c, err := pagination.Decode(cursor)
		if err == nil {
			o.cursor = c
		}
	}
}
