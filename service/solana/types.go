package solana

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// TransactionRecord is the decoded view of a confirmed transaction that the
// verifiers work against. It is our domain model, independent of the RPC
// response format: balances are aligned to AccountKeys, and instructions carry
// their raw payload bytes.
type TransactionRecord struct {
	Signature    solana.Signature
	Slot         uint64
	BlockTime    time.Time
	Err          any // non-nil if on-chain execution failed
	Fee          uint64
	AccountKeys  []solana.PublicKey
	PreBalances  []uint64
	PostBalances []uint64
	LogMessages  []string
	Instructions []InstructionRecord
}

// InstructionRecord is a single compiled instruction: the index of the program
// account that executes it, the account indices it touches, and its opaque
// payload.
type InstructionRecord struct {
	ProgramIDIndex uint16
	Accounts       []uint16
	Data           []byte
}

// Failed reports whether the transaction errored during on-chain execution.
func (r *TransactionRecord) Failed() bool {
	return r.Err != nil
}

// AccountIndex returns the position of the given account in the transaction's
// account list, or -1 if the account does not appear.
func (r *TransactionRecord) AccountIndex(key solana.PublicKey) int {
	for i, k := range r.AccountKeys {
		if k.Equals(key) {
			return i
		}
	}
	return -1
}
