package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ERC20 minimal ABI for metadata reads.
const erc20ABI = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var parsedERC20 = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic("chain: invalid embedded ERC20 ABI: " + err.Error())
	}
	return parsed
}()

// TokenMetadata holds basic fungible-token attributes. Fields fall
// back to placeholders when the contract does not answer the standard
// accessors.
type TokenMetadata struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply string
}

// TokenMetadata reads name, symbol, decimals, and total supply from
// standard accessors. Each accessor degrades independently to its
// placeholder value; the call itself never fails.
func (c *Client) TokenMetadata(ctx context.Context, address string) TokenMetadata {
	md := TokenMetadata{
		Name:        "Unknown",
		Symbol:      "UNKNOWN",
		Decimals:    18,
		TotalSupply: "0",
	}
	if !common.IsHexAddress(address) {
		return md
	}
	to := common.HexToAddress(address)

	if out, err := c.callMethod(ctx, to, "name"); err == nil {
		var name string
		if err := parsedERC20.UnpackIntoInterface(&name, "name", out); err == nil && name != "" {
			md.Name = name
		}
	}
	if out, err := c.callMethod(ctx, to, "symbol"); err == nil {
		var symbol string
		if err := parsedERC20.UnpackIntoInterface(&symbol, "symbol", out); err == nil && symbol != "" {
			md.Symbol = symbol
		}
	}
	if out, err := c.callMethod(ctx, to, "decimals"); err == nil {
		var decimals uint8
		if err := parsedERC20.UnpackIntoInterface(&decimals, "decimals", out); err == nil {
			md.Decimals = decimals
		}
	}
	if out, err := c.callMethod(ctx, to, "totalSupply"); err == nil {
		var supply *big.Int
		if err := parsedERC20.UnpackIntoInterface(&supply, "totalSupply", out); err == nil && supply != nil {
			md.TotalSupply = supply.String()
		}
	}
	return md
}

func (c *Client) callMethod(ctx context.Context, to common.Address, method string) ([]byte, error) {
	data, err := parsedERC20.Pack(method)
	if err != nil {
		return nil, err
	}
	return c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}
