package interpret

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/chainguard/internal/scan"
)

// fakeProvider returns canned output or a canned error.
type fakeProvider struct {
	out        string
	err        error
	calls      int
	lastPrompt string
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.lastPrompt = prompt
	return f.out, f.err
}

func (f *fakeProvider) Name() string { return "fake" }

func sampleResult() *scan.Result {
	return &scan.Result{
		ID:        "scan_1",
		Address:   "0xabc",
		ChainID:   1,
		Type:      scan.TypeToken,
		RiskScore: 83,
		RiskLevel: scan.LevelHigh,
		Findings: []scan.Finding{
			{Code: "HONEYPOT", Severity: scan.SeverityCritical, Description: "Token cannot be sold after purchase", Score: 40},
			{Code: "HIGH_SELL_TAX", Severity: scan.SeverityHigh, Description: "Sell tax is 25%", Score: 25},
			{Code: "MINTABLE_TOKEN", Severity: scan.SeverityHigh, Description: "Token supply can be increased", Score: 18},
		},
	}
}

func TestAnalyzeParsesProviderJSON(t *testing.T) {
	p := &fakeProvider{out: "Here is my analysis:\n```json\n" +
		`{"summary":"Likely honeypot token","topRisks":["cannot sell"],"reasoning":"Honeypot flag plus extreme sell tax.","recommendation":"AVOID","confidence":0.9}` +
		"\n```"}
	svc := New(p)

	interp := svc.Analyze(context.Background(), sampleResult())
	require.NotNil(t, interp)
	assert.True(t, interp.AIGenerated)
	assert.Equal(t, "Likely honeypot token", interp.Summary)
	assert.Equal(t, scan.RecommendAvoid, interp.Recommendation)
	assert.Equal(t, 0.9, interp.Confidence)
	assert.False(t, svc.Degraded())
}

func TestAnalyzeFillsDefaults(t *testing.T) {
	p := &fakeProvider{out: `{"recommendation":"something weird"}`}
	interp := New(p).Analyze(context.Background(), sampleResult())

	assert.Equal(t, "Analysis completed", interp.Summary)
	assert.Equal(t, []string{}, interp.TopRisks)
	assert.Equal(t, "Based on detected patterns", interp.Reasoning)
	assert.Equal(t, scan.RecommendCaution, interp.Recommendation)
	assert.Equal(t, DefaultAIConfidence, interp.Confidence)
}

func TestAnalyzeFallsBackOnError(t *testing.T) {
	p := &fakeProvider{err: errors.New("quota exceeded")}
	svc := New(p)

	interp := svc.Analyze(context.Background(), sampleResult())
	assert.False(t, interp.AIGenerated)
	assert.Equal(t, FallbackConfidence, interp.Confidence)
	assert.Equal(t, 1, p.calls)
}

func TestAnalyzeRetriesProviderOnNextCall(t *testing.T) {
	// The fallback is scoped to the failing call. A transient error
	// must not pin later calls to rule-based output.
	p := &fakeProvider{err: errors.New("timeout")}
	svc := New(p)

	interp := svc.Analyze(context.Background(), sampleResult())
	assert.False(t, interp.AIGenerated)

	p.err = nil
	p.out = `{"summary":"recovered","recommendation":"CAUTION"}`
	interp = svc.Analyze(context.Background(), sampleResult())
	assert.True(t, interp.AIGenerated)
	assert.Equal(t, "recovered", interp.Summary)
	assert.Equal(t, 2, p.calls)
}

func TestAnalyzeFallsBackOnGarbageOutput(t *testing.T) {
	p := &fakeProvider{out: "I cannot help with that."}
	svc := New(p)

	interp := svc.Analyze(context.Background(), sampleResult())
	assert.False(t, interp.AIGenerated)
	assert.Equal(t, FallbackConfidence, interp.Confidence)
}

func TestAnalyzeTruncatesTopRisks(t *testing.T) {
	p := &fakeProvider{out: `{"summary":"busy token","topRisks":["a","b","c","d","e"],"recommendation":"AVOID"}`}
	interp := New(p).Analyze(context.Background(), sampleResult())

	assert.True(t, interp.AIGenerated)
	assert.Equal(t, []string{"a", "b", "c"}, interp.TopRisks)
}

func TestPromptOffersFullRecommendationEnum(t *testing.T) {
	p := &fakeProvider{out: `{"recommendation":"SAFE"}`}
	interp := New(p).Analyze(context.Background(), sampleResult())

	assert.Contains(t, p.lastPrompt, "SAFE, CAUTION, AVOID, or BLOCK")
	assert.Equal(t, scan.RecommendSafe, interp.Recommendation)
}

func TestNilProviderStartsDegraded(t *testing.T) {
	svc := New(nil)
	assert.True(t, svc.Degraded())

	interp := svc.Analyze(context.Background(), sampleResult())
	assert.False(t, interp.AIGenerated)
	assert.Equal(t, FallbackConfidence, interp.Confidence)
}

func TestRuleBased(t *testing.T) {
	interp := RuleBased(sampleResult())

	assert.Contains(t, interp.Summary, "Token scan")
	assert.Contains(t, interp.Summary, "1 critical, 2 high")
	require.Len(t, interp.TopRisks, 3)
	// Detection order is preserved, not weight order
	assert.Equal(t, "Token cannot be sold after purchase", interp.TopRisks[0])
	assert.Equal(t, "Sell tax is 25%", interp.TopRisks[1])
	assert.Equal(t, scan.RecommendAvoid, interp.Recommendation)
	assert.Equal(t, FallbackConfidence, interp.Confidence)
	assert.False(t, interp.AIGenerated)
}

func TestRuleBasedRecommendations(t *testing.T) {
	tests := []struct {
		name     string
		score    int
		critical bool
		want     scan.Recommendation
	}{
		{"critical finding forces avoid", 10, true, scan.RecommendAvoid},
		{"score above 75 avoids", 80, false, scan.RecommendAvoid},
		{"score above 50 cautions", 60, false, scan.RecommendCaution},
		{"score between 25 and 50 cautions", 30, false, scan.RecommendCaution},
		{"low score is safe", 10, false, scan.RecommendSafe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &scan.Result{Type: scan.TypeWallet, RiskScore: tt.score}
			if tt.critical {
				result.Findings = []scan.Finding{{Code: "SCAM_DATABASE", Severity: scan.SeverityCritical, Score: 40}}
			}
			assert.Equal(t, tt.want, RuleBased(result).Recommendation)
		})
	}
}

func TestRuleBasedHighlights(t *testing.T) {
	result := &scan.Result{
		Type:      scan.TypeToken,
		RiskScore: 90,
		Token:     &scan.TokenData{IsHoneypot: true, SellTaxPercent: 25},
	}
	interp := RuleBased(result)
	assert.Contains(t, interp.Summary, "Honeypot behavior detected.")
	assert.Contains(t, interp.Summary, "Sell tax is 25%.")
}

func TestGeminiProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-1.5-flash:generateContent")
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"summary\":\"ok\"}"}]}}]}`))
	}))
	defer srv.Close()

	p := NewGemini("secret", WithGeminiBaseURL(srv.URL))
	out, err := p.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok"}`, out)
}

func TestGeminiProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewGemini("secret", WithGeminiBaseURL(srv.URL))
	_, err := p.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
