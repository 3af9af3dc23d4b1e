package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/brojonat/mintctl/service/engine"
	"github.com/brojonat/mintctl/service/tokenprog"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// opSpec describes one operation command. The same specs back both the
// "op" and "preview" command groups.
type opSpec struct {
	name    string
	usage   string
	flags   []cli.Flag
	request func(c *cli.Context) (engine.Request, error)
}

func keyFlag(name, usage string) cli.Flag {
	return &cli.StringFlag{Name: name, Usage: usage, Required: true}
}

func operationSpecs() []opSpec {
	return []opSpec{
		{
			name:  string(engine.OpCreateToken),
			usage: "Create a token with metadata and mint the whole supply to yourself",
			flags: []cli.Flag{
				&cli.StringFlag{Name: "name", Usage: "Token name (max 32 chars)", Required: true},
				&cli.StringFlag{Name: "symbol", Usage: "Token symbol (max 10 chars)", Required: true},
				&cli.StringFlag{Name: "description", Usage: "Token description"},
				&cli.UintFlag{Name: "decimals", Usage: "Decimal places (0-18)", Value: 6},
				&cli.StringFlag{Name: "supply", Usage: "Whole-token supply", Required: true},
				&cli.PathFlag{Name: "image", Usage: "Image file for the token logo", Required: true},
				&cli.StringFlag{Name: "variant", Usage: "Token program: classic or extended", Value: "classic"},
			},
			request: buildCreateToken,
		},
		{
			name:  string(engine.OpRevokeMintAuthority),
			usage: "Permanently disable minting for a mint",
			flags: []cli.Flag{keyFlag("mint", "Mint address")},
			request: func(c *cli.Context) (engine.Request, error) {
				mint, err := parseKey(c.String("mint"), "mint")
				return engine.RevokeMintAuthorityRequest{Mint: mint}, err
			},
		},
		{
			name:  string(engine.OpRevokeFreezeAuthority),
			usage: "Permanently disable freezing for a mint",
			flags: []cli.Flag{keyFlag("mint", "Mint address")},
			request: func(c *cli.Context) (engine.Request, error) {
				mint, err := parseKey(c.String("mint"), "mint")
				return engine.RevokeFreezeAuthorityRequest{Mint: mint}, err
			},
		},
		{
			name:  string(engine.OpFreezeAccount),
			usage: "Freeze a holding account",
			flags: []cli.Flag{keyFlag("account", "Holding account address")},
			request: func(c *cli.Context) (engine.Request, error) {
				account, err := parseKey(c.String("account"), "account")
				return engine.FreezeAccountRequest{Account: account}, err
			},
		},
		{
			name:  string(engine.OpThawAccount),
			usage: "Thaw a frozen holding account",
			flags: []cli.Flag{keyFlag("account", "Holding account address")},
			request: func(c *cli.Context) (engine.Request, error) {
				account, err := parseKey(c.String("account"), "account")
				return engine.ThawAccountRequest{Account: account}, err
			},
		},
		{
			name:  string(engine.OpSetAuthority),
			usage: "Replace or remove one authority of a mint or holding account",
			flags: []cli.Flag{
				keyFlag("address", "Mint (mint-tokens, freeze-account) or holding account (account-owner, close-account)"),
				&cli.StringFlag{Name: "authority", Usage: "mint-tokens, freeze-account, account-owner or close-account", Required: true},
				&cli.StringFlag{Name: "new-authority", Usage: "New authority address; omit to remove the authority"},
			},
			request: buildSetAuthority,
		},
		{
			name:  string(engine.OpApproveDelegate),
			usage: "Let a delegate move up to an amount from a holding account",
			flags: []cli.Flag{
				keyFlag("account", "Holding account address"),
				keyFlag("delegate", "Delegate address"),
				&cli.Uint64Flag{Name: "amount", Usage: "Allowance in base units", Required: true},
			},
			request: func(c *cli.Context) (engine.Request, error) {
				account, err := parseKey(c.String("account"), "account")
				if err != nil {
					return nil, err
				}
				delegate, err := parseKey(c.String("delegate"), "delegate")
				if err != nil {
					return nil, err
				}
				return engine.ApproveDelegateRequest{Account: account, Delegate: delegate, Amount: c.Uint64("amount")}, nil
			},
		},
		{
			name:  string(engine.OpRevokeDelegate),
			usage: "Remove the delegate of a holding account",
			flags: []cli.Flag{keyFlag("account", "Holding account address")},
			request: func(c *cli.Context) (engine.Request, error) {
				account, err := parseKey(c.String("account"), "account")
				return engine.RevokeDelegateRequest{Account: account}, err
			},
		},
		{
			name:  string(engine.OpCloseAccount),
			usage: "Close an empty holding account and reclaim its rent",
			flags: []cli.Flag{
				keyFlag("account", "Holding account address"),
				&cli.StringFlag{Name: "destination", Usage: "Rent recipient (defaults to you)"},
			},
			request: func(c *cli.Context) (engine.Request, error) {
				account, err := parseKey(c.String("account"), "account")
				if err != nil {
					return nil, err
				}
				req := engine.CloseAccountRequest{Account: account}
				if d := c.String("destination"); d != "" {
					dest, err := parseKey(d, "destination")
					if err != nil {
						return nil, err
					}
					req.Destination = &dest
				}
				return req, nil
			},
		},
	}
}

func operationCommands(preview bool) []*cli.Command {
	specs := operationSpecs()
	cmds := make([]*cli.Command, len(specs))
	for i, spec := range specs {
		cmds[i] = &cli.Command{
			Name:  spec.name,
			Usage: spec.usage,
			Flags: spec.flags,
			Action: func(c *cli.Context) error {
				req, err := spec.request(c)
				if err != nil {
					return err
				}
				if preview {
					return runPreview(c, req)
				}
				return runOperation(c, req)
			},
		}
	}
	return cmds
}

func buildCreateToken(c *cli.Context) (engine.Request, error) {
	variant, err := tokenprog.ParseVariant(c.String("variant"))
	if err != nil {
		return nil, err
	}
	decimals := c.Uint("decimals")
	if decimals > 255 {
		return nil, fmt.Errorf("decimals out of range: %d", decimals)
	}
	path := c.Path("image")
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return engine.CreateTokenRequest{
		Name:        c.String("name"),
		Symbol:      c.String("symbol"),
		Description: c.String("description"),
		Decimals:    uint8(decimals),
		Supply:      c.String("supply"),
		Image:       image,
		ImageName:   filepath.Base(path),
		Variant:     variant,
	}, nil
}

func buildSetAuthority(c *cli.Context) (engine.Request, error) {
	address, err := parseKey(c.String("address"), "address")
	if err != nil {
		return nil, err
	}
	authority, err := tokenprog.ParseAuthorityType(c.String("authority"))
	if err != nil {
		return nil, err
	}
	req := engine.SetAuthorityRequest{Address: address, Authority: authority}
	if n := c.String("new-authority"); n != "" {
		key, err := parseKey(n, "new-authority")
		if err != nil {
			return nil, err
		}
		req.NewAuthority = &key
	}
	return req, nil
}

func parseKey(s, field string) (solanago.PublicKey, error) {
	key, err := solanago.PublicKeyFromBase58(strings.TrimSpace(s))
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("invalid %s address %q: %w", field, s, err)
	}
	return key, nil
}

func runOperation(c *cli.Context, req engine.Request) error {
	rt, err := newOpRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.session.Guest() {
		fmt.Fprintln(os.Stderr, "No token configured: running as guest, the receipt will not be recorded.")
	}

	res, err := rt.engine.Execute(c.Context, rt.session, req, rt.sink)
	if res != nil {
		if c.Bool("json") {
			if jerr := outputJSON(res.Receipt); jerr != nil {
				return jerr
			}
		} else {
			printReceipt(res.Receipt, res.Persisted)
		}
	}
	if err != nil {
		return operationError(err)
	}
	return nil
}

func runPreview(c *cli.Context, req engine.Request) error {
	rt, err := newOpRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	p, err := rt.engine.Preview(c.Context, req)
	if err != nil {
		return operationError(err)
	}

	if c.Bool("json") {
		return outputJSON(map[string]any{
			"operation":         req.Operation(),
			"fee":               p.Fee,
			"required_lamports": p.RequiredLamports,
			"balance_lamports":  p.Snapshot.Lamports,
			"variant":           p.Snapshot.Variant,
		})
	}

	fmt.Printf("Operation:        %s\n", req.Operation())
	fmt.Printf("Token program:    %s\n", p.Snapshot.Variant)
	fmt.Printf("Service fee:      %s\n", formatSOL(p.Fee.Lamports))
	fmt.Printf("Treasury:         %s\n", p.Fee.Treasury)
	fmt.Printf("Required balance: %s\n", formatSOL(p.RequiredLamports))
	fmt.Printf("Your balance:     %s\n", formatSOL(p.Snapshot.Lamports))
	return nil
}

// operationError turns an engine error into a message that says whether it
// is safe to run the operation again.
func operationError(err error) error {
	e, ok := engine.AsError(err)
	if !ok {
		return err
	}
	msg := err.Error()
	switch {
	case e.Kind == engine.KindPersistence:
		msg += "\nThe operation is confirmed on chain but the receipt was not recorded. Do not run it again."
	case !e.Retryable():
		msg += "\nThe transaction may have landed. Check the signature on an explorer before retrying."
	}
	return cli.Exit(msg, 1)
}

func printReceipt(r engine.Receipt, persisted bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Operation:\t%s\n", r.Operation)
	fmt.Fprintf(w, "Signature:\t%s\n", r.Signature)
	if r.Mint != "" {
		fmt.Fprintf(w, "Mint:\t%s\n", r.Mint)
	}
	if r.Account != "" {
		fmt.Fprintf(w, "Account:\t%s\n", r.Account)
	}
	fmt.Fprintf(w, "Token program:\t%s\n", r.Variant)
	fmt.Fprintf(w, "Service fee:\t%s\n", formatSOL(r.FeeLamports))
	fmt.Fprintf(w, "Slot:\t%d\n", r.Slot)
	fmt.Fprintf(w, "Recorded:\t%t\n", persisted)
	w.Flush()
}

func formatSOL(lamports uint64) string {
	return fmt.Sprintf("%d.%09d SOL", lamports/solanago.LAMPORTS_PER_SOL, lamports%solanago.LAMPORTS_PER_SOL)
}

func accountsCommand() *cli.Command {
	return &cli.Command{
		Name:  "accounts",
		Usage: "List token holding accounts under both token programs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "owner", Usage: "Owner address (defaults to the keypair address)"},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			var owner solanago.PublicKey
			var err error
			if o := c.String("owner"); o != "" {
				owner, err = parseKey(o, "owner")
			} else {
				owner, err = walletAddress(c)
			}
			if err != nil {
				return err
			}

			chain, err := newChain(c, logger)
			if err != nil {
				return err
			}
			eng := engine.New(engine.Config{Network: c.String("network")}, engine.Deps{Chain: chain, Logger: logger})

			holdings, err := eng.Holdings(c.Context, owner)
			if err != nil {
				if _, ok := engine.AsError(err); ok {
					return operationError(err)
				}
				return fmt.Errorf("failed to list holdings: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(holdings)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ACCOUNT\tMINT\tPROGRAM\tBALANCE\tFROZEN\tDELEGATE")
			for _, h := range holdings {
				delegate := "-"
				if h.Delegate != nil {
					delegate = h.Delegate.String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\n", h.Address, h.Mint, h.Variant, h.Balance, h.Frozen, delegate)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d accounts\n", len(holdings))
			return nil
		},
	}
}
