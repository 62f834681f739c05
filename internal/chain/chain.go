package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Blockchain describes one supported network: its routing name and the ticker
// of its native currency (the contract id used when an order trades the
// currency itself).
type Blockchain struct {
	Name         string
	NativeTicker string
	hexAddresses bool
}

var supported = []Blockchain{
	{Name: "kusama", NativeTicker: "KSM"},
	{Name: "ethereum", NativeTicker: "ETH", hexAddresses: true},
	{Name: "polygon", NativeTicker: "MATIC", hexAddresses: true},
}

// FromName resolves a blockchain by its routing name.
func FromName(name string) (Blockchain, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, b := range supported {
		if b.Name == name {
			return b, nil
		}
	}
	return Blockchain{}, fmt.Errorf("unknown blockchain %q", name)
}

// NormalizeAddress canonicalizes an address for storage and comparison.
// Addresses are compared case-insensitively everywhere, so the stored form is
// lower case. Hex chains additionally reject malformed addresses.
func (b Blockchain) NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("empty address")
	}
	if b.hexAddresses {
		if !common.IsHexAddress(addr) {
			return "", fmt.Errorf("invalid %s address %q", b.Name, addr)
		}
		return strings.ToLower(common.HexToAddress(addr).Hex()), nil
	}
	return strings.ToLower(addr), nil
}

// IsNative reports whether a contract id is the chain's own currency.
func (b Blockchain) IsNative(contract string) bool {
	return contract == b.NativeTicker
}
