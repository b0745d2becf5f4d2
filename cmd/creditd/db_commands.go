package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/burnerpost/creditd/service/db"
	"github.com/itchyny/gojq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listPurchasesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-purchases",
		Usage:   "List credit purchases",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "wallet",
				Aliases: []string{"w"},
				Usage:   "Filter by wallet address",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of purchases",
				Value:   50,
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "Filter purchases with a jq expression (e.g. '.credits >= 5'); repeatable, all must match",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			var purchases []*db.CreditPurchase
			if wallet := c.String("wallet"); wallet != "" {
				purchases, err = store.ListPurchasesByWallet(context.Background(), wallet, int32(c.Int("limit")), 0)
			} else {
				purchases, err = store.ListRecentPurchases(context.Background(), int32(c.Int("limit")))
			}
			if err != nil {
				return fmt.Errorf("failed to list purchases: %w", err)
			}

			purchases, err = filterPurchases(purchases, c.StringSlice("jq"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(purchases)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WALLET\tCREDITS\tLAMPORTS\tSOL\tSIGNATURE\tSTATUS\tCREATED")
			for _, p := range purchases {
				fmt.Fprintf(w, "%s\t%d\t%d\t%.9f\t%s\t%s\t%s\n",
					p.WalletAddress,
					p.Credits,
					p.AmountLamports,
					p.SolAmount,
					p.TransactionSignature,
					p.Status,
					p.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d purchases\n", len(purchases))
			return nil
		},
	}
}

func getUserCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-user",
		Usage:     "Get a wallet's credit balance",
		Aliases:   []string{"get"},
		ArgsUsage: "<wallet-address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			address := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			credits, err := store.GetUserCredits(context.Background(), address)
			if err != nil {
				return fmt.Errorf("failed to get user credits: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"walletAddress": address,
					"credits":       credits,
				})
			}

			fmt.Printf("Wallet:  %s\n", address)
			fmt.Printf("Credits: %d\n", credits)
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply SQL migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Directory containing .sql migration files",
				Value: "migrations",
			},
		},
		Action: func(c *cli.Context) error {
			dbURL := c.String("database-url")
			if dbURL == "" {
				return fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
			}

			dir := c.String("dir")
			entries, err := os.ReadDir(dir)
			if err != nil {
				return fmt.Errorf("failed to read migrations directory: %w", err)
			}

			var files []string
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
					files = append(files, entry.Name())
				}
			}
			sort.Strings(files)

			if len(files) == 0 {
				return fmt.Errorf("no .sql files found in %s", dir)
			}

			pool, err := pgxpool.New(context.Background(), dbURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			for _, file := range files {
				sql, err := os.ReadFile(filepath.Join(dir, file))
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}

				if _, err := pool.Exec(context.Background(), string(sql)); err != nil {
					return fmt.Errorf("failed to apply %s: %w", file, err)
				}
				fmt.Fprintf(os.Stderr, "applied %s\n", file)
			}

			fmt.Fprintf(os.Stderr, "Applied %d migrations\n", len(files))
			return nil
		},
	}
}

// filterPurchases keeps only the purchases every jq filter evaluates truthy
// against. Filters run over the JSON form of each purchase.
func filterPurchases(purchases []*db.CreditPurchase, filters []string) ([]*db.CreditPurchase, error) {
	if len(filters) == 0 {
		return purchases, nil
	}

	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}

	var kept []*db.CreditPurchase
	for _, p := range purchases {
		doc, err := purchaseDocument(p)
		if err != nil {
			return nil, err
		}
		if matchesAll(doc, compiled) {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// purchaseDocument round-trips a purchase through JSON so jq sees the same
// shape the HTTP API serves.
func purchaseDocument(p *db.CreditPurchase) (interface{}, error) {
	buf, err := json.Marshal(map[string]interface{}{
		"walletAddress":        p.WalletAddress,
		"credits":              p.Credits,
		"amountLamports":       p.AmountLamports,
		"solAmount":            p.SolAmount,
		"transactionSignature": p.TransactionSignature,
		"status":               p.Status,
		"createdAt":            p.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal purchase: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal purchase: %w", err)
	}
	return doc, nil
}

// matchesAll reports whether every compiled filter yields a truthy result.
func matchesAll(doc interface{}, filters []*gojq.Code) bool {
	for _, code := range filters {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy follows jq semantics: false and null are falsy, everything else
// is truthy.
func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case nil:
		return false
	default:
		return true
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
