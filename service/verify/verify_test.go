package verify

import (
	"context"
	"io"
	"log/slog"
	"testing"

	sol "github.com/burnerpost/creditd/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

// fakeChainReader implements sol.ChainReader with scripted records.
// Behavior-focused: we set what it should return, not verify call sequences.
type fakeChainReader struct {
	records map[string]*sol.TransactionRecord
	err     error
	calls   int
}

func (f *fakeChainReader) GetTransaction(ctx context.Context, signature solana.Signature) (*sol.TransactionRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.records == nil {
		return nil, nil
	}
	return f.records[signature.String()], nil
}

var (
	testSig = solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testProgram returns a fresh program ID plus its derived vault.
func testProgram(t *testing.T) (solana.PublicKey, solana.PublicKey) {
	t.Helper()
	programID := solana.NewWallet().PublicKey()
	vault, err := sol.VaultAddress(programID)
	require.NoError(t, err)
	return programID, vault
}

// purchaseRecordParams controls the shape of a scripted purchase transaction.
type purchaseRecordParams struct {
	programID    solana.PublicKey
	vault        solana.PublicKey
	payerPre     uint64
	payerPost    uint64
	fee          uint64
	vaultPre     uint64
	vaultPost    uint64
	logs         []string
	instructions []sol.InstructionRecord
	execErr      any
	omitVault    bool
}

// buildPurchaseRecord assembles a TransactionRecord with the account layout
// [payer, vault, program]. Pass nil logs/instructions to get a well-formed
// purchase of the given shape.
func buildPurchaseRecord(t *testing.T, p purchaseRecordParams) *sol.TransactionRecord {
	t.Helper()

	payer := solana.NewWallet().PublicKey()
	keys := []solana.PublicKey{payer}
	pre := []uint64{p.payerPre}
	post := []uint64{p.payerPost}

	if !p.omitVault {
		keys = append(keys, p.vault)
		pre = append(pre, p.vaultPre)
		post = append(post, p.vaultPost)
	}
	keys = append(keys, p.programID)
	pre = append(pre, 1_000_000)
	post = append(post, 1_000_000)

	logs := p.logs
	if logs == nil {
		logs = []string{
			"Program " + p.programID.String() + " invoke [1]",
			"Program log: Credits purchased: 1",
			"Program " + p.programID.String() + " success",
		}
	}

	instructions := p.instructions
	if instructions == nil {
		instructions = []sol.InstructionRecord{purchaseInstruction(len(keys)-1, 1)}
	}

	return &sol.TransactionRecord{
		Signature:    testSig,
		Slot:         100,
		Err:          p.execErr,
		Fee:          p.fee,
		AccountKeys:  keys,
		PreBalances:  pre,
		PostBalances: post,
		LogMessages:  logs,
		Instructions: instructions,
	}
}

// purchaseInstruction builds a purchase_credits instruction payload:
// 8-byte discriminator followed by the credit count byte.
func purchaseInstruction(programIndex int, credits uint8) sol.InstructionRecord {
	data := append(append([]byte{}, purchaseCreditsDiscriminator...), credits)
	return sol.InstructionRecord{
		ProgramIDIndex: uint16(programIndex),
		Accounts:       []uint16{0, 1},
		Data:           data,
	}
}

// validTierOnePurchase is the canonical accepted transaction: the payer loses
// exactly 25,000,000 lamports net of a 50 lamport fee, and the vault gains
// the same amount.
func validTierOnePurchase(t *testing.T, programID, vault solana.PublicKey) *sol.TransactionRecord {
	t.Helper()
	return buildPurchaseRecord(t, purchaseRecordParams{
		programID: programID,
		vault:     vault,
		payerPre:  1_000_000_100,
		payerPost: 975_000_050,
		fee:       50,
		vaultPre:  5_000_000,
		vaultPost: 30_000_000,
	})
}

func readerWith(record *sol.TransactionRecord) *fakeChainReader {
	records := map[string]*sol.TransactionRecord{}
	if record != nil {
		records[testSig.String()] = record
	}
	return &fakeChainReader{records: records}
}
