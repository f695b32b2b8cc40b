package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// EIP-1967 storage slots for proxy implementation and admin addresses.
var (
	implementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
	adminSlot          = common.HexToHash("0xb53127684a568b3173ae13b9f8a6016e243e63b6e8ee1178d6a717850b5d6103")
)

// ProxyInfo is the outcome of EIP-1967 proxy detection.
type ProxyInfo struct {
	IsProxy        bool
	Type           string
	Implementation string
	Admin          string
}

// DetectProxy probes the EIP-1967 implementation and admin slots.
// Storage read failures are treated as "not a proxy" so that RPC
// trouble can never spend the proxy finding's weight.
func (c *Client) DetectProxy(ctx context.Context, address string) ProxyInfo {
	impl, err := c.StorageSlot(ctx, address, implementationSlot)
	if err != nil {
		c.logger.Debug("proxy slot read failed", "address", address, "error", err)
		return ProxyInfo{}
	}
	implAddr := slotAddress(impl)
	if implAddr == "" {
		return ProxyInfo{}
	}

	info := ProxyInfo{
		IsProxy:        true,
		Type:           "EIP-1967",
		Implementation: implAddr,
	}

	if admin, err := c.StorageSlot(ctx, address, adminSlot); err == nil {
		info.Admin = slotAddress(admin)
	}
	return info
}

// slotAddress decodes the low 20 bytes of a storage word, returning ""
// for short or all-zero words.
func slotAddress(word []byte) string {
	if len(word) < 32 {
		return ""
	}
	addr := common.BytesToAddress(word[12:32])
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}
