package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// vaultSeed is the fixed seed the program uses to derive its payment vault.
// The vault address is never supplied by the client; it is always re-derived
// from the program identifier.
const vaultSeed = "vault"

// VaultAddress derives the program's payment vault PDA. Deterministic, no
// network call.
func VaultAddress(programID solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(vaultSeed)}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive vault for program %s: %w", programID, err)
	}
	return addr, nil
}
