package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/mintctl/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listReceiptsCommand() *cli.Command {
	return &cli.Command{
		Name:      "receipts",
		Usage:     "List stored receipts of an owner",
		Aliases:   []string{"ls"},
		ArgsUsage: "OWNER",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of receipts",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of receipts to skip",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: owner address")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			receipts, err := store.ListReceiptsByOwner(c.Context, db.ListReceiptsParams{
				Owner:   c.Args().First(),
				Network: c.String("network"),
				Limit:   int32(c.Int("limit")),
				Offset:  int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list receipts: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(receipts)
			}
			printStoredReceipts(receipts)
			fmt.Fprintf(os.Stderr, "\nTotal: %d receipts\n", len(receipts))
			return nil
		},
	}
}

func listPendingCommand() *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "List receipts still waiting for verification",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "since",
				Usage: "Only receipts created within this window",
				Value: 24 * time.Hour,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   100,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			receipts, err := store.ListPendingReceipts(c.Context, c.String("network"),
				time.Now().Add(-c.Duration("since")), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list pending receipts: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(receipts)
			}
			printStoredReceipts(receipts)
			fmt.Fprintf(os.Stderr, "\nTotal: %d pending\n", len(receipts))
			return nil
		},
	}
}

func feeTotalCommand() *cli.Command {
	return &cli.Command{
		Name:  "fees",
		Usage: "Sum verified service fees",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "since",
				Usage: "Start time (RFC3339); defaults to 30 days ago",
			},
		},
		Action: func(c *cli.Context) error {
			since := time.Now().Add(-30 * 24 * time.Hour)
			if s := c.String("since"); s != "" {
				t, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return fmt.Errorf("invalid time format (use RFC3339): %w", err)
				}
				since = t
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			network := c.String("network")
			count, lamports, err := store.FeeTotal(c.Context, network, since)
			if err != nil {
				return fmt.Errorf("failed to sum fees: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]any{
					"network":  network,
					"since":    since.UTC(),
					"count":    count,
					"lamports": lamports,
				})
			}
			fmt.Printf("Network:  %s\n", network)
			fmt.Printf("Since:    %s\n", since.Format(time.RFC3339))
			fmt.Printf("Payments: %d\n", count)
			fmt.Printf("Total:    %s\n", formatSOL(uint64(lamports)))
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(c.Context); err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}
			fmt.Fprintln(os.Stderr, "✓ migrations applied")
			return nil
		},
	}
}

func printStoredReceipts(receipts []*db.Receipt) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNATURE\tOPERATION\tOWNER\tSTATUS\tCONFIRMED")
	for _, r := range receipts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Signature,
			r.Operation,
			r.Owner,
			r.VerificationStatus,
			r.ConfirmedAt.Format(time.RFC3339),
		)
	}
	w.Flush()
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

	return db.NewStore(pool), func() { pool.Close() }, nil
}
