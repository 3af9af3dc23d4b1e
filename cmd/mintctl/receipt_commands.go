package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/mintctl/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func receiptCommands() *cli.Command {
	return &cli.Command{
		Name:    "receipts",
		Aliases: []string{"rc"},
		Usage:   "Query recorded receipts through the receipts server",
		Subcommands: []*cli.Command{
			receiptsListCommand(),
			receiptGetCommand(),
			receiptQRCommand(),
			receiptAwaitCommand(),
		},
	}
}

func newReceiptsClient(c *cli.Context, timeout time.Duration) *client.Client {
	return client.NewClient(c.String("server-url"), &http.Client{Timeout: timeout}, newLogger(c))
}

func receiptsListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List the receipts of an owner",
		ArgsUsage: "[OWNER]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   20,
				Usage:   "Maximum number of receipts to retrieve (1-1000)",
			},
			&cli.IntFlag{
				Name:    "offset",
				Aliases: []string{"o"},
				Usage:   "Number of receipts to skip",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Aliases: []string{"jq"},
				Usage:   "jq filter each shown receipt must satisfy (repeatable, all must match)",
			},
		},
		Action: func(c *cli.Context) error {
			limit := c.Int("limit")
			offset := c.Int("offset")
			if limit < 1 || limit > 1000 {
				return fmt.Errorf("limit must be between 1 and 1000")
			}
			if offset < 0 {
				return fmt.Errorf("offset cannot be negative")
			}

			owner := c.Args().First()
			if owner == "" {
				addr, err := walletAddress(c)
				if err != nil {
					return fmt.Errorf("owner is required when no keypair is configured: %w", err)
				}
				owner = addr.String()
			}

			filters, err := compileJQ(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			cl := newReceiptsClient(c, 30*time.Second)
			page, err := cl.List(c.Context, owner, client.ListOptions{
				Network: c.String("network"),
				Limit:   limit,
				Offset:  offset,
			})
			if err != nil {
				return fmt.Errorf("failed to list receipts: %w", err)
			}

			receipts := make([]*client.Receipt, 0, len(page.Receipts))
			for _, r := range page.Receipts {
				ok, err := matchesAll(filters, r)
				if err != nil {
					return err
				}
				if ok {
					receipts = append(receipts, r)
				}
			}

			if c.Bool("json") {
				return outputJSON(receipts)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tOPERATION\tTARGET\tFEE\tSTATUS\tCONFIRMED")
			for _, r := range receipts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Signature,
					r.Operation,
					receiptTarget(r),
					formatSOL(uint64(r.FeeLamports)),
					r.VerificationStatus,
					r.ConfirmedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nShowing %d of %d receipts (offset %d)\n", len(receipts), page.Total, page.Offset)
			return nil
		},
	}
}

func receiptGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one receipt",
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}

			cl := newReceiptsClient(c, 30*time.Second)
			r, err := cl.Get(c.Context, c.String("network"), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get receipt: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(r)
			}
			printReceiptDetailed(r)
			return nil
		},
	}
}

func receiptQRCommand() *cli.Command {
	return &cli.Command{
		Name:      "qr",
		Usage:     "Download the explorer QR code of a receipt",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output PNG file (defaults to SIGNATURE.png)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}
			sig := c.Args().First()

			cl := newReceiptsClient(c, 30*time.Second)
			png, err := cl.QRCode(c.Context, c.String("network"), sig)
			if err != nil {
				return fmt.Errorf("failed to fetch QR code: %w", err)
			}

			out := c.Path("out")
			if out == "" {
				out = sig + ".png"
			}
			if err := os.WriteFile(out, png, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(os.Stderr, "Wrote %s (%d bytes)\n", out, len(png))
			return nil
		},
	}
}

func receiptAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a receipt has been verified or rejected",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "owner",
				Usage: "Receipt owner (defaults to the keypair address)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for verification",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}
			sig := c.Args().First()

			owner := c.String("owner")
			if owner == "" {
				addr, err := walletAddress(c)
				if err != nil {
					return fmt.Errorf("--owner is required when no keypair is configured: %w", err)
				}
				owner = addr.String()
			}

			timeout := c.Duration("timeout")
			if !c.Bool("json") {
				fmt.Fprintf(os.Stderr, "Waiting for verification of %s...\n", sig)
				fmt.Fprintf(os.Stderr, "  Owner:   %s\n", owner)
				fmt.Fprintf(os.Stderr, "  Timeout: %v\n\n", timeout)
			}

			ctx, cancel := context.WithTimeout(c.Context, timeout)
			defer cancel()

			// The stream stays open for the whole wait; only the dial is bounded.
			cl := client.NewClient(c.String("server-url"), &http.Client{}, newLogger(c))
			r, err := cl.Await(ctx, owner, c.String("network"), sig)
			if err != nil {
				return fmt.Errorf("failed to await receipt: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(r)
			}
			printReceiptDetailed(r)
			if r.VerificationStatus == client.StatusRejected {
				return cli.Exit("receipt was rejected", 1)
			}
			return nil
		},
	}
}

func receiptTarget(r *client.Receipt) string {
	switch {
	case r.Mint != nil:
		return *r.Mint
	case r.Account != nil:
		return *r.Account
	}
	return "-"
}

func printReceiptDetailed(r *client.Receipt) {
	fmt.Printf("Signature:   %s\n", r.Signature)
	fmt.Printf("Network:     %s\n", r.Network)
	fmt.Printf("Operation:   %s\n", r.Operation)
	fmt.Printf("Owner:       %s\n", r.Owner)
	if r.Mint != nil {
		fmt.Printf("Mint:        %s\n", *r.Mint)
	}
	if r.Account != nil {
		fmt.Printf("Account:     %s\n", *r.Account)
	}
	fmt.Printf("Program:     %s\n", r.Variant)
	fmt.Printf("Fee:         %s\n", formatSOL(uint64(r.FeeLamports)))
	fmt.Printf("Slot:        %d\n", r.Slot)
	fmt.Printf("Confirmed:   %s\n", r.ConfirmedAt.Format(time.RFC3339))
	fmt.Printf("Status:      %s\n", r.VerificationStatus)
	if r.VerificationReason != nil {
		fmt.Printf("Reason:      %s\n", *r.VerificationReason)
	}
	if r.ExplorerURL != "" {
		fmt.Printf("Explorer:    %s\n", r.ExplorerURL)
	}
}

func compileJQ(filters []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// matchesAll runs every filter against v's JSON form. A filter with no
// output or an error does not match.
func matchesAll(codes []*gojq.Code, v any) (bool, error) {
	if len(codes) == 0 {
		return true, nil
	}

	// gojq only accepts plain maps, slices and scalars.
	data, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, err
	}

	for _, code := range codes {
		iter := code.Run(doc)
		out, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if _, isErr := out.(error); isErr {
			return false, nil
		}
		if !isTruthy(out) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
