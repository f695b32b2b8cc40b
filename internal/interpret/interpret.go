// Package interpret turns a scan's raw findings into a human-readable
// assessment. An LLM provider writes the primary interpretation; when
// the provider fails, the call falls back to a deterministic
// rule-based interpretation. The fallback is per call and one-way: a
// scan whose provider attempt failed is answered rule-based without a
// retry, but the next scan tries the provider again.
package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mbd888/chainguard/internal/scan"
)

// Fallback and AI-default confidence values.
const (
	FallbackConfidence  = 0.6
	DefaultAIConfidence = 0.75
)

// Provider generates free-form text from a prompt.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Service produces interpretations for scan results.
type Service struct {
	provider Provider
	logger   *slog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates an interpretation service. A nil provider makes every
// call answer rule-based.
func New(provider Provider, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Degraded reports whether the service has no provider and always
// answers rule-based.
func (s *Service) Degraded() bool {
	return s.provider == nil
}

// Analyze produces an interpretation for the result. It never fails:
// a provider error means this call answers rule-based, with no second
// attempt against the provider.
func (s *Service) Analyze(ctx context.Context, result *scan.Result) *scan.Interpretation {
	if s.provider != nil {
		interp, err := s.fromProvider(ctx, result)
		if err == nil {
			return interp
		}
		s.logger.Warn("interpretation provider failed, answering rule-based",
			"provider", s.provider.Name(), "error", err)
	}
	return RuleBased(result)
}

func (s *Service) fromProvider(ctx context.Context, result *scan.Result) (*scan.Interpretation, error) {
	raw, err := s.provider.Generate(ctx, buildPrompt(result))
	if err != nil {
		return nil, err
	}

	payload := extractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("interpret: no JSON object in provider output")
	}

	var parsed struct {
		Summary        string   `json:"summary"`
		TopRisks       []string `json:"topRisks"`
		Reasoning      string   `json:"reasoning"`
		Recommendation string   `json:"recommendation"`
		Confidence     float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("interpret: provider output is not valid JSON: %w", err)
	}

	interp := &scan.Interpretation{
		Summary:        parsed.Summary,
		TopRisks:       parsed.TopRisks,
		Reasoning:      parsed.Reasoning,
		Recommendation: normalizeRecommendation(parsed.Recommendation),
		Confidence:     parsed.Confidence,
		AIGenerated:    true,
	}
	if interp.Summary == "" {
		interp.Summary = "Analysis completed"
	}
	if interp.TopRisks == nil {
		interp.TopRisks = []string{}
	}
	if len(interp.TopRisks) > 3 {
		interp.TopRisks = interp.TopRisks[:3]
	}
	if interp.Reasoning == "" {
		interp.Reasoning = "Based on detected patterns"
	}
	if interp.Confidence <= 0 || interp.Confidence > 1 {
		interp.Confidence = DefaultAIConfidence
	}
	return interp, nil
}

// RuleBased builds the deterministic fallback interpretation. Top
// risks follow finding detection order, not weight.
func RuleBased(result *scan.Result) *scan.Interpretation {
	topRisks := []string{}
	for i, f := range result.Findings {
		if i == 3 {
			break
		}
		topRisks = append(topRisks, f.Description)
	}

	return &scan.Interpretation{
		Summary:        ruleSummary(result),
		TopRisks:       topRisks,
		Reasoning:      "Deterministic assessment from weighted risk findings.",
		Recommendation: ruleRecommendation(result),
		Confidence:     FallbackConfidence,
		AIGenerated:    false,
	}
}

func ruleRecommendation(result *scan.Result) scan.Recommendation {
	critical := false
	for _, f := range result.Findings {
		if f.Severity == scan.SeverityCritical {
			critical = true
			break
		}
	}

	switch {
	case critical || result.RiskScore > 75:
		return scan.RecommendAvoid
	case result.RiskScore > 50:
		return scan.RecommendCaution
	case result.RiskScore < 25:
		return scan.RecommendSafe
	default:
		return scan.RecommendCaution
	}
}

func ruleSummary(result *scan.Result) string {
	var criticalN, highN, mediumN int
	for _, f := range result.Findings {
		switch f.Severity {
		case scan.SeverityCritical:
			criticalN++
		case scan.SeverityHigh:
			highN++
		case scan.SeverityMedium:
			mediumN++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s scan of %s scored %d/100 (%s)", capitalize(string(result.Type)),
		result.Address, result.RiskScore, result.RiskLevel)
	if criticalN+highN+mediumN > 0 {
		fmt.Fprintf(&b, " with %d critical, %d high, and %d medium severity findings",
			criticalN, highN, mediumN)
	} else {
		b.WriteString(" with no significant findings")
	}
	b.WriteString(".")

	for _, h := range highlights(result) {
		b.WriteString(" ")
		b.WriteString(h)
	}
	return b.String()
}

// highlights adds type-specific callouts the templated summary leads with.
func highlights(result *scan.Result) []string {
	var out []string
	if result.Contract != nil && !result.Contract.Verified {
		out = append(out, "Source code is not verified.")
	}
	if result.Token != nil {
		if result.Token.IsHoneypot {
			out = append(out, "Honeypot behavior detected.")
		}
		if result.Token.SellTaxPercent > 20 {
			out = append(out, fmt.Sprintf("Sell tax is %.0f%%.", result.Token.SellTaxPercent))
		}
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func normalizeRecommendation(s string) scan.Recommendation {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SAFE":
		return scan.RecommendSafe
	case "AVOID":
		return scan.RecommendAvoid
	case "BLOCK":
		return scan.RecommendBlock
	default:
		return scan.RecommendCaution
	}
}

// extractJSON pulls the outermost JSON object out of provider output
// that may wrap it in prose or markdown fences.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return raw[start : end+1]
}

func buildPrompt(result *scan.Result) string {
	var b strings.Builder
	b.WriteString("You are a blockchain security analyst. Assess the following scan result.\n\n")
	fmt.Fprintf(&b, "Address: %s (chain %d)\n", result.Address, result.ChainID)
	fmt.Fprintf(&b, "Type: %s\n", result.Type)
	fmt.Fprintf(&b, "Risk score: %d/100 (%s)\n", result.RiskScore, result.RiskLevel)
	b.WriteString("Findings:\n")
	if len(result.Findings) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, f := range result.Findings {
		fmt.Fprintf(&b, "  - [%s] %s: %s (weight %d)\n", f.Severity, f.Code, f.Description, f.Score)
	}
	b.WriteString("\nRespond with ONLY a JSON object, no markdown, with keys: ")
	b.WriteString(`"summary" (one sentence), "topRisks" (up to 3 strings), `)
	b.WriteString(`"reasoning" (one paragraph), "recommendation" (SAFE, CAUTION, AVOID, or BLOCK), `)
	b.WriteString(`"confidence" (0.0-1.0).`)
	return b.String()
}
