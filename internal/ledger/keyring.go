package ledger

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Keyring maps accounts to the private keys that sign for them.
type Keyring map[common.Address]*ecdsa.PrivateKey

// NewKeyring parses hex private keys, with or without a 0x prefix.
func NewKeyring(hexKeys []string) (Keyring, error) {
	kr := make(Keyring, len(hexKeys))
	for i, raw := range hexKeys {
		raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
		if raw == "" {
			continue
		}
		key, err := crypto.HexToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("private key %d: %w", i, err)
		}
		kr[crypto.PubkeyToAddress(key.PublicKey)] = key
	}
	return kr, nil
}

// Accounts returns the addresses the keyring can sign for.
func (k Keyring) Accounts() []common.Address {
	out := make([]common.Address, 0, len(k))
	for addr := range k {
		out = append(out, addr)
	}
	return out
}
