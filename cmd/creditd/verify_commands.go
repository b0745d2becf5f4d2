package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/burnerpost/creditd/service/pricing"
	"github.com/burnerpost/creditd/service/solana"
	"github.com/burnerpost/creditd/service/verify"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Dry-run payment verification against a transaction signature",
		ArgsUsage: "<transaction-signature>",
		Description: `Runs both verification channels against an on-chain transaction
without touching the ledger. Useful for debugging rejected purchases.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:     "credits",
				Aliases:  []string{"c"},
				Usage:    "Claimed credit tier",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "RPC timeout",
				Value: 30 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}

			rpcURL := c.String("rpc-url")
			if rpcURL == "" {
				return fmt.Errorf("rpc-url is required (set SOLANA_RPC_URL env var or use --rpc-url)")
			}

			programID, err := solanago.PublicKeyFromBase58(c.String("program-id"))
			if err != nil {
				return fmt.Errorf("invalid program-id (set CREDITS_PROGRAM_ID env var or use --program-id): %w", err)
			}

			signature, err := solanago.SignatureFromBase58(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid transaction signature: %w", err)
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError, // Only errors to stderr
			}))

			rpcClient := solana.NewRPCClient(rpcURL)
			reader := solana.NewClient(rpcClient, c.Duration("timeout"), 3, nil, logger)

			txVerifier, err := verify.NewTransactionVerifier(reader, programID, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize transaction verifier: %w", err)
			}
			ixVerifier := verify.NewInstructionVerifier(reader, programID, logger)

			credits := c.Int("credits")
			ctx := context.Background()

			txResult, err := txVerifier.Verify(ctx, signature, credits)
			if err != nil {
				return reportVerifyFailure("transaction", err, c.Bool("json"))
			}

			ixCredits, err := ixVerifier.VerifyInstruction(ctx, signature, credits)
			if err != nil {
				return reportVerifyFailure("instruction", err, c.Bool("json"))
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"verified":           true,
					"credits":            credits,
					"amountPaid":         txResult.AmountPaid,
					"vaultReceived":      txResult.VaultReceived,
					"instructionCredits": ixCredits,
				})
			}

			fmt.Printf("✓ Both verification channels passed\n")
			fmt.Printf("  Credits:             %d\n", credits)
			fmt.Printf("  Amount Paid:         %d lamports (%.9f SOL)\n", txResult.AmountPaid, pricing.SolEquivalent(txResult.AmountPaid))
			fmt.Printf("  Vault Received:      %d lamports\n", txResult.VaultReceived)
			fmt.Printf("  Instruction Credits: %d\n", ixCredits)
			if txResult.LogCredits != nil {
				fmt.Printf("  Log Credits:         %d\n", *txResult.LogCredits)
			}
			return nil
		},
	}
}

// reportVerifyFailure distinguishes a rejection (the transaction is wrong)
// from a chain read failure (the RPC is wrong).
func reportVerifyFailure(channel string, err error, jsonOut bool) error {
	if rej, ok := verify.AsRejection(err); ok {
		if jsonOut {
			outputJSON(map[string]interface{}{
				"verified": false,
				"channel":  channel,
				"reason":   string(rej.Reason),
				"detail":   rej.Detail,
			})
			return cli.Exit("", 1)
		}
		fmt.Printf("✗ Rejected by %s channel\n", channel)
		fmt.Printf("  Reason: %s\n", rej.Reason)
		fmt.Printf("  Detail: %s\n", rej.Detail)
		return cli.Exit("", 1)
	}
	return fmt.Errorf("%s verification failed: %w", channel, err)
}

func quoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "quote",
		Usage: "Show the exact payment each credit tier requires",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "credits",
				Aliases: []string{"c"},
				Usage:   "Quote a single tier instead of the full table",
			},
		},
		Action: func(c *cli.Context) error {
			tiers := pricing.Tiers()
			if credits := c.Int("credits"); credits != 0 {
				if !pricing.ValidTier(credits) {
					return fmt.Errorf("invalid credit amount: %d is not a purchasable tier (valid: %v)", credits, tiers)
				}
				tiers = []int{credits}
			}

			if c.Bool("json") {
				out := make([]map[string]interface{}, len(tiers))
				for i, tier := range tiers {
					amount, _ := pricing.AmountFor(tier)
					out[i] = map[string]interface{}{
						"credits":        tier,
						"amountLamports": amount,
						"sol":            pricing.SolEquivalent(amount),
					}
				}
				return outputJSON(out)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CREDITS\tLAMPORTS\tSOL")
			for _, tier := range tiers {
				amount, _ := pricing.AmountFor(tier)
				fmt.Fprintf(w, "%d\t%d\t%.9f\n", tier, amount, pricing.SolEquivalent(amount))
			}
			return w.Flush()
		},
	}
}
