// Package chain handles read-only blockchain access for scans: bytecode
// and storage reads, balances, nonces, and contract owner lookups.
//
// Clients are created lazily per chain through a Registry so that a
// process only dials the RPC endpoints it actually scans against.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ErrInvalidAddress   = errors.New("chain: invalid address")
	ErrUnsupportedChain = errors.New("chain: unsupported chain")
	ErrRPCConnection    = errors.New("chain: RPC connection failed")
)

// owner() selector, shared by Ownable-style contracts.
var ownerSelector = common.Hex2Bytes("8da5cb5b")

// ZeroAddress is the canonical burn/renounce target.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Info describes one supported chain.
type Info struct {
	ID           int64  `json:"chainId"`
	Name         string `json:"name"`
	NativeSymbol string `json:"nativeSymbol"`
	RPCURL       string `json:"-"`
	ExplorerURL  string `json:"-"`
}

// EthClient abstracts go-ethereum client for testing.
type EthClient interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Client wraps an RPC connection to a single chain.
type Client struct {
	info   Info
	client EthClient
	logger *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithEthClient sets a custom Ethereum client (useful for testing).
func WithEthClient(ec EthClient) Option {
	return func(c *Client) {
		c.client = ec
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient connects to the chain's RPC endpoint unless a client is
// injected via WithEthClient.
func NewClient(info Info, opts ...Option) (*Client, error) {
	c := &Client{
		info:   info,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		ec, err := ethclient.Dial(info.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		c.client = ec
	}
	return c, nil
}

// Info returns the chain metadata this client serves.
func (c *Client) Info() Info { return c.info }

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// HasCode reports whether the address carries deployed bytecode.
func (c *Client) HasCode(ctx context.Context, address string) (bool, error) {
	if !common.IsHexAddress(address) {
		return false, ErrInvalidAddress
	}
	code, err := c.client.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return false, fmt.Errorf("chain: code lookup failed: %w", err)
	}
	return len(code) > 0, nil
}

// Balance returns the native balance formatted in whole-coin units.
func (c *Client) Balance(ctx context.Context, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	wei, err := c.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return "", fmt.Errorf("chain: balance lookup failed: %w", err)
	}
	return FormatEther(wei), nil
}

// Nonce returns the address's transaction count.
func (c *Client) Nonce(ctx context.Context, address string) (uint64, error) {
	if !common.IsHexAddress(address) {
		return 0, ErrInvalidAddress
	}
	n, err := c.client.NonceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return 0, fmt.Errorf("chain: nonce lookup failed: %w", err)
	}
	return n, nil
}

// StorageSlot reads one raw storage word at the given slot hash.
func (c *Client) StorageSlot(ctx context.Context, address string, slot common.Hash) ([]byte, error) {
	if !common.IsHexAddress(address) {
		return nil, ErrInvalidAddress
	}
	return c.client.StorageAt(ctx, common.HexToAddress(address), slot, nil)
}

// Owner calls owner() on the contract. Returns the empty string when
// the contract exposes no owner function.
func (c *Client) Owner(ctx context.Context, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	to := common.HexToAddress(address)
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: ownerSelector}, nil)
	if err != nil || len(out) < 32 {
		// Not Ownable, or the call reverted
		return "", nil
	}
	return common.BytesToAddress(out[12:32]).Hex(), nil
}

// FormatEther renders a wei amount as a decimal coin string.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e18))
	s := f.Text('f', 6)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// IsZeroAddress reports whether addr is the zero address.
func IsZeroAddress(addr string) bool {
	return strings.EqualFold(addr, ZeroAddress)
}
