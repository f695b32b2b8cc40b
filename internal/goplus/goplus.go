// Package goplus queries the GoPlus Security API for token security
// attributes and address reputation flags.
//
// The API encodes booleans as "1"/"0" strings and tax rates as decimal
// fractions; this package normalizes both to Go types.
package goplus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/chainguard/internal/circuitbreaker"
	"github.com/mbd888/chainguard/internal/metrics"
)

var (
	ErrUnavailable = errors.New("goplus: service unavailable")
)

// DefaultBaseURL is the public GoPlus API endpoint.
const DefaultBaseURL = "https://api.gopluslabs.io/api/v1"

// Holder is one token holder entry.
type Holder struct {
	Address  string
	Percent  float64 // 0-100 scale
	IsLocked bool
}

// TokenSecurity is the normalized token security report.
type TokenSecurity struct {
	Available      bool
	Name           string
	Symbol         string
	IsHoneypot     bool
	BuyTaxPercent  float64
	SellTaxPercent float64
	IsMintable     bool
	IsInDEX        bool
	IsOpenSource   bool
	LPHolderCount  int
	HolderCount    int
	OwnerAddress   string
	TopHolders     []Holder
}

// TopHolderShare returns the largest single holder's percentage.
func (t *TokenSecurity) TopHolderShare() float64 {
	var max float64
	for _, h := range t.TopHolders {
		if h.Percent > max {
			max = h.Percent
		}
	}
	return max
}

// AddressSecurity is the normalized address reputation report.
type AddressSecurity struct {
	Available       bool
	Blacklisted     bool
	Cybercrime      bool
	MoneyLaundering bool
	FinancialCrime  bool
	MixerRelated    bool
}

// Flags lists the reputation categories that fired, in a fixed order.
func (a *AddressSecurity) Flags() []string {
	var flags []string
	if a.Blacklisted {
		flags = append(flags, "blacklisted")
	}
	if a.Cybercrime {
		flags = append(flags, "cybercrime")
	}
	if a.MoneyLaundering {
		flags = append(flags, "money laundering")
	}
	if a.FinancialCrime {
		flags = append(flags, "financial crime")
	}
	return flags
}

// Client talks to the GoPlus API.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithBreaker guards requests with a circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a GoPlus client. An empty baseURL uses the public API.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenRecord struct {
	TokenName     string `json:"token_name"`
	TokenSymbol   string `json:"token_symbol"`
	IsHoneypot    string `json:"is_honeypot"`
	BuyTax        string `json:"buy_tax"`
	SellTax       string `json:"sell_tax"`
	IsMintable    string `json:"is_mintable"`
	IsInDEX       string `json:"is_in_dex"`
	IsOpenSource  string `json:"is_open_source"`
	LPHolderCount string `json:"lp_holder_count"`
	HolderCount   string `json:"holder_count"`
	OwnerAddress  string `json:"owner_address"`
	Holders       []struct {
		Address  string `json:"address"`
		Percent  string `json:"percent"`
		IsLocked int    `json:"is_locked"`
	} `json:"holders"`
}

// TokenSecurity fetches the token security report. A token unknown to
// GoPlus yields Available=false rather than an error.
func (c *Client) TokenSecurity(ctx context.Context, chainID int64, address string) (*TokenSecurity, error) {
	endpoint := fmt.Sprintf("%s/token_security/%d", c.baseURL, chainID)
	params := url.Values{"contract_addresses": {strings.ToLower(address)}}

	var result map[string]tokenRecord
	if err := c.get(ctx, endpoint, params, &result); err != nil {
		return nil, err
	}

	rec, ok := result[strings.ToLower(address)]
	if !ok {
		return &TokenSecurity{}, nil
	}

	ts := &TokenSecurity{
		Available:      true,
		Name:           rec.TokenName,
		Symbol:         rec.TokenSymbol,
		IsHoneypot:     ParseBool(rec.IsHoneypot),
		BuyTaxPercent:  ParsePercent(rec.BuyTax),
		SellTaxPercent: ParsePercent(rec.SellTax),
		IsMintable:     ParseBool(rec.IsMintable),
		IsInDEX:        ParseBool(rec.IsInDEX),
		IsOpenSource:   ParseBool(rec.IsOpenSource),
		LPHolderCount:  parseInt(rec.LPHolderCount),
		HolderCount:    parseInt(rec.HolderCount),
		OwnerAddress:   rec.OwnerAddress,
	}
	for _, h := range rec.Holders {
		ts.TopHolders = append(ts.TopHolders, Holder{
			Address:  h.Address,
			Percent:  ParsePercent(h.Percent),
			IsLocked: h.IsLocked == 1,
		})
	}
	return ts, nil
}

type addressRecord struct {
	BlacklistDoubt  string `json:"blacklist_doubt"`
	Cybercrime      string `json:"cybercrime"`
	MoneyLaundering string `json:"money_laundering"`
	FinancialCrime  string `json:"financial_crime"`
	MixerRelated    string `json:"mixer"`
}

// AddressSecurity fetches the address reputation report.
func (c *Client) AddressSecurity(ctx context.Context, chainID int64, address string) (*AddressSecurity, error) {
	endpoint := fmt.Sprintf("%s/address_security/%s", c.baseURL, strings.ToLower(address))
	params := url.Values{"chain_id": {strconv.FormatInt(chainID, 10)}}

	var rec addressRecord
	if err := c.get(ctx, endpoint, params, &rec); err != nil {
		return nil, err
	}

	return &AddressSecurity{
		Available:       true,
		Blacklisted:     ParseBool(rec.BlacklistDoubt),
		Cybercrime:      ParseBool(rec.Cybercrime),
		MoneyLaundering: ParseBool(rec.MoneyLaundering),
		FinancialCrime:  ParseBool(rec.FinancialCrime),
		MixerRelated:    ParseBool(rec.MixerRelated),
	}, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if c.breaker != nil && !c.breaker.Allow(c.baseURL) {
		metrics.ExternalCallsTotal.WithLabelValues("goplus", "rejected").Inc()
		return ErrUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("goplus: failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.recordFailure()
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var envelope struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.recordFailure()
		return fmt.Errorf("goplus: failed to decode response: %w", err)
	}
	c.recordSuccess()

	if envelope.Code != 1 {
		return fmt.Errorf("goplus: API error %d: %s", envelope.Code, envelope.Message)
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("goplus: unexpected result shape: %w", err)
	}
	return nil
}

func (c *Client) recordFailure() {
	metrics.ExternalCallsTotal.WithLabelValues("goplus", "error").Inc()
	if c.breaker != nil {
		c.breaker.RecordFailure(c.baseURL)
	}
}

func (c *Client) recordSuccess() {
	metrics.ExternalCallsTotal.WithLabelValues("goplus", "ok").Inc()
	if c.breaker != nil {
		c.breaker.RecordSuccess(c.baseURL)
	}
}

// ParseBool interprets the API's "1"/"0" string booleans.
func ParseBool(s string) bool {
	return s == "1"
}

// ParsePercent converts a decimal fraction string like "0.05" to a
// percentage (5.0). Unparseable values read as zero.
func ParsePercent(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f * 100
}

func parseInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
