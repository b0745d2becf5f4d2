package verify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"log/slog"

	sol "github.com/burnerpost/creditd/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
)

// anchorDiscriminator computes the 8-byte tag identifying a program method,
// using the same scheme the program uses: the first 8 bytes of
// sha256("global:<method>").
func anchorDiscriminator(method string) []byte {
	h := sha256.Sum256([]byte("global:" + method))
	return h[:8]
}

// purchaseCreditsDiscriminator tags the program's purchase_credits
// instruction.
var purchaseCreditsDiscriminator = anchorDiscriminator("purchase_credits")

// purchaseCreditsArgs is the borsh-encoded argument layout that follows the
// discriminator.
type purchaseCreditsArgs struct {
	Credits uint8
}

// InstructionVerifier is the second, independent confirmation channel. It does
// not rely on human-readable logs: it walks the transaction's raw instruction
// list and requires an exact discriminator match before decoding the credit
// count from the instruction payload. This defends against spoofed logs and
// against a different instruction in the same transaction being mistaken for
// a purchase.
type InstructionVerifier struct {
	reader    sol.ChainReader
	programID solana.PublicKey
	logger    *slog.Logger
}

// NewInstructionVerifier creates an instruction verifier for the given
// program.
func NewInstructionVerifier(reader sol.ChainReader, programID solana.PublicKey, logger *slog.Logger) *InstructionVerifier {
	return &InstructionVerifier{
		reader:    reader,
		programID: programID,
		logger:    logger,
	}
}

// VerifyInstruction locates the purchase_credits instruction in the
// transaction and returns its decoded credit count. The decoded count must
// equal the claimed tier. Rejections use the same taxonomy as the transaction
// verifier; transient RPC failures surface as *ChainReadError.
func (v *InstructionVerifier) VerifyInstruction(ctx context.Context, signature solana.Signature, claimedTier int) (int, error) {
	record, err := v.reader.GetTransaction(ctx, signature)
	if err != nil {
		return 0, &ChainReadError{Err: err}
	}
	if record == nil {
		return 0, Reject(ReasonTransactionNotFound, "transaction %s not found on chain", signature)
	}
	if record.Failed() {
		return 0, Reject(ReasonTransactionFailed, "transaction failed on chain: %v", record.Err)
	}

	for i, inst := range record.Instructions {
		if int(inst.ProgramIDIndex) >= len(record.AccountKeys) {
			continue
		}
		if !record.AccountKeys[inst.ProgramIDIndex].Equals(v.programID) {
			continue
		}
		if len(inst.Data) < 8 {
			continue
		}
		if !bytes.Equal(inst.Data[:8], purchaseCreditsDiscriminator) {
			continue
		}

		// Discriminator matched: the next byte is the credit count.
		if len(inst.Data) < 9 {
			return 0, Reject(ReasonMalformedInstruction, "purchase instruction %d has %d bytes, need at least 9", i, len(inst.Data))
		}

		var args purchaseCreditsArgs
		if err := borsh.Deserialize(&args, inst.Data[8:9]); err != nil {
			return 0, Reject(ReasonMalformedInstruction, "purchase instruction %d: %v", i, err)
		}

		credits := int(args.Credits)
		if credits != claimedTier {
			return 0, Reject(ReasonCreditsMismatch, "instruction encodes %d credits but claim is %d", credits, claimedTier)
		}

		v.logger.DebugContext(ctx, "purchase instruction verified",
			"signature", signature.String(),
			"instruction", i,
			"credits", credits,
		)
		return credits, nil
	}

	return 0, Reject(ReasonNoMatchingInstruction, "no purchase_credits instruction for program %s", v.programID)
}
