package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NormalizeIdentity trims and lower-cases a wallet identity and checks that it
// is a 0x-prefixed 20-byte hex address.
func NormalizeIdentity(raw string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(id, "0x") || !common.IsHexAddress(id) {
		return "", ErrInvalidIdentity
	}
	return id, nil
}

// SameIdentity compares two identities case-insensitively.
func SameIdentity(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// NormalizeEvidence lower-cases the transaction hash and payer and checks
// their shape. Payer is optional.
func NormalizeEvidence(ev SettlementEvidence) (SettlementEvidence, error) {
	hash := strings.ToLower(strings.TrimSpace(ev.TxHash))
	raw, err := hexutil.Decode(hash)
	if err != nil || len(raw) != common.HashLength {
		return SettlementEvidence{}, ErrInvalidEvidence
	}
	out := SettlementEvidence{TxHash: hash}
	if strings.TrimSpace(ev.Payer) != "" {
		payer, err := NormalizeIdentity(ev.Payer)
		if err != nil {
			return SettlementEvidence{}, err
		}
		out.Payer = payer
	}
	return out, nil
}
