package integrity

import (
	"github.com/aspace-os/contractguard/pkg/store/ledger"
)

// HashEntry computes the digest a ledger entry should carry.
func HashEntry(e ledger.Entry) (string, error) {
	return HashRaw(e.ContractID, string(e.ContractType), []byte(e.RawJSON), string(e.Status), e.CreatedAt)
}

// VerifyEntry audits a stored row against its recorded digest.
func VerifyEntry(e ledger.Entry) bool {
	return VerifyRaw(e.ContractID, string(e.ContractType), []byte(e.RawJSON), string(e.Status), e.CreatedAt, e.IntegrityHash)
}
