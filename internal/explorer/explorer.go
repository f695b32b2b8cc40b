// Package explorer queries Etherscan-compatible block explorer APIs for
// contract verification status and transaction history.
//
// Etherscan, Polygonscan, and BscScan share the same query protocol, so
// one client serves all supported chains given the right base URL.
package explorer

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
	ErrUnavailable = errors.New("explorer: service unavailable")
)

// Source is a contract's verification record.
type Source struct {
	Verified        bool
	ContractName    string
	CompilerVersion string
	ABI             string
}

// FunctionNames parses the verified ABI and returns its function names
// in declaration order. Unverified or malformed ABIs yield nil.
func (s *Source) FunctionNames() []string {
	if !s.Verified || s.ABI == "" {
		return nil
	}
	var entries []struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(s.ABI), &entries); err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.Type == "function" && e.Name != "" {
			names = append(names, e.Name)
		}
	}
	return names
}

// Tx is one transaction from the explorer's history listing.
type Tx struct {
	Hash      string
	From      string
	To        string
	Timestamp time.Time
}

// Creation identifies who deployed a contract and when.
type Creation struct {
	Creator   string
	TxHash    string
	Timestamp time.Time
}

// Client talks to one explorer API endpoint.
type Client struct {
	baseURL string
	apiKey  string
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

// New creates an explorer client for the given API base URL.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ContractSource fetches the contract's verified source record.
func (c *Client) ContractSource(ctx context.Context, address string) (*Source, error) {
	params := url.Values{
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {address},
	}

	var result []struct {
		SourceCode      string `json:"SourceCode"`
		ContractName    string `json:"ContractName"`
		CompilerVersion string `json:"CompilerVersion"`
		ABI             string `json:"ABI"`
	}
	if err := c.get(ctx, params, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return &Source{}, nil
	}

	src := &Source{
		Verified:        result[0].SourceCode != "",
		ContractName:    result[0].ContractName,
		CompilerVersion: result[0].CompilerVersion,
	}
	// Unverified contracts carry an error sentence in the ABI field
	if src.Verified && strings.HasPrefix(result[0].ABI, "[") {
		src.ABI = result[0].ABI
	}
	return src, nil
}

// ContractCreation returns the contract's deployment transaction, or
// nil when the explorer has no history for the address.
func (c *Client) ContractCreation(ctx context.Context, address string) (*Creation, error) {
	txs, err := c.transactions(ctx, address, "asc", 1)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &Creation{
		Creator:   txs[0].From,
		TxHash:    txs[0].Hash,
		Timestamp: txs[0].Timestamp,
	}, nil
}

// FirstTransaction returns the oldest transaction for the address, or
// nil when the address has no history.
func (c *Client) FirstTransaction(ctx context.Context, address string) (*Tx, error) {
	txs, err := c.transactions(ctx, address, "asc", 1)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	tx := txs[0]
	return &tx, nil
}

// RecentTransactions returns up to limit transactions, newest first.
func (c *Client) RecentTransactions(ctx context.Context, address string, limit int) ([]Tx, error) {
	return c.transactions(ctx, address, "desc", limit)
}

func (c *Client) transactions(ctx context.Context, address, sort string, limit int) ([]Tx, error) {
	params := url.Values{
		"module":  {"account"},
		"action":  {"txlist"},
		"address": {address},
		"page":    {"1"},
		"offset":  {strconv.Itoa(limit)},
		"sort":    {sort},
	}

	var raw []struct {
		Hash      string `json:"hash"`
		From      string `json:"from"`
		To        string `json:"to"`
		TimeStamp string `json:"timeStamp"`
	}
	if err := c.get(ctx, params, &raw); err != nil {
		return nil, err
	}

	txs := make([]Tx, 0, len(raw))
	for _, r := range raw {
		ts, err := strconv.ParseInt(r.TimeStamp, 10, 64)
		if err != nil {
			continue
		}
		txs = append(txs, Tx{
			Hash:      r.Hash,
			From:      r.From,
			To:        r.To,
			Timestamp: time.Unix(ts, 0).UTC(),
		})
	}
	return txs, nil
}

// get performs one explorer API request and decodes the result field.
// The explorer returns status "0" both for errors and for empty result
// sets, so "No transactions found" is treated as an empty slice.
func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	if c.breaker != nil && !c.breaker.Allow(c.baseURL) {
		metrics.ExternalCallsTotal.WithLabelValues("explorer", "rejected").Inc()
		return ErrUnavailable
	}

	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("explorer: failed to create request: %w", err)
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
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.recordFailure()
		return fmt.Errorf("explorer: failed to decode response: %w", err)
	}
	c.recordSuccess()

	if envelope.Status != "1" {
		if envelope.Message == "No transactions found" {
			return nil
		}
		// Result carries the error detail as a string on failures
		var detail string
		_ = json.Unmarshal(envelope.Result, &detail)
		return fmt.Errorf("explorer: API error: %s %s", envelope.Message, detail)
	}

	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("explorer: unexpected result shape: %w", err)
	}
	return nil
}

func (c *Client) recordFailure() {
	metrics.ExternalCallsTotal.WithLabelValues("explorer", "error").Inc()
	if c.breaker != nil {
		c.breaker.RecordFailure(c.baseURL)
	}
}

func (c *Client) recordSuccess() {
	metrics.ExternalCallsTotal.WithLabelValues("explorer", "ok").Inc()
	if c.breaker != nil {
		c.breaker.RecordSuccess(c.baseURL)
	}
}
