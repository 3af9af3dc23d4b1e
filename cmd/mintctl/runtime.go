package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/brojonat/mintctl/client"
	"github.com/brojonat/mintctl/service/engine"
	natspkg "github.com/brojonat/mintctl/service/nats"
	"github.com/brojonat/mintctl/service/solana"
	"github.com/brojonat/mintctl/service/storage"
	"github.com/brojonat/mintctl/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func defaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "solana", "id.json")
}

func newLogger(c *cli.Context) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.String("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// opRuntime is everything an operation command needs.
type opRuntime struct {
	engine  *engine.Engine
	wallet  *wallet.Keypair
	session engine.Session
	sink    engine.Sink
	logger  *slog.Logger
	closers []func()
}

func (r *opRuntime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// newOpRuntime wires the engine from global flags.
func newOpRuntime(c *cli.Context) (*opRuntime, error) {
	logger := newLogger(c)
	rt := &opRuntime{logger: logger}

	var consent wallet.Consent
	if !c.Bool("yes") {
		consent = promptConsent(os.Stdin, os.Stderr)
	}
	kp, err := wallet.Load(c.String("keypair"), consent, logger)
	if err != nil {
		return nil, err
	}
	rt.wallet = kp

	chain, err := newChain(c, logger)
	if err != nil {
		return nil, err
	}

	deps := engine.Deps{
		Chain:  chain,
		Wallet: kp,
		Logger: logger,
	}
	if u := c.String("storage-url"); u != "" {
		deps.Publisher = storage.NewClient(u, c.String("storage-api-key"), nil, nil, logger)
	}
	if token := c.String("token"); token != "" {
		deps.Reporter = client.NewClient(c.String("server-url"), nil, logger)
		rt.session = engine.Session{Credential: &engine.Credential{Token: token}}
	}

	rt.engine = engine.New(engine.Config{
		Network:        c.String("network"),
		SigningTimeout: c.Duration("signing-timeout"),
		ConfirmTimeout: c.Duration("confirm-timeout"),
		PollInterval:   c.Duration("poll-interval"),
	}, deps)

	sinks := engine.MultiSink{printSink(os.Stderr, c.Bool("json"))}
	if c.Bool("publish-status") {
		pub, err := natspkg.NewPublisher(c.String("nats-url"), logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { pub.Close() })
		sinks = append(sinks, natspkg.StatusSink(pub, logger))
	}
	rt.sink = sinks

	return rt, nil
}

func newChain(c *cli.Context, logger *slog.Logger) (*solana.Client, error) {
	rpcURL, err := solana.SelectRandomEndpoint(strings.Split(c.String("rpc-url"), ","))
	if err != nil {
		return nil, err
	}
	return solana.NewClient(solana.NewRPCClient(rpcURL), solana.EndpointLabel(rpcURL), c.Duration("rpc-timeout"), nil, logger), nil
}

// walletAddress returns the address of the configured key file without
// asking for consent.
func walletAddress(c *cli.Context) (solanago.PublicKey, error) {
	kp, err := wallet.Load(c.String("keypair"), nil, nil)
	if err != nil {
		return solanago.PublicKey{}, err
	}
	return kp.Address(c.Context)
}

// promptConsent asks on out and reads y/N from in. Anything but y or yes
// declines.
func promptConsent(in io.Reader, out io.Writer) wallet.Consent {
	reader := bufio.NewReader(in)
	var mu sync.Mutex
	return func(ctx context.Context, s wallet.Summary) (bool, error) {
		mu.Lock()
		defer mu.Unlock()

		programs := make([]string, len(s.Programs))
		for i, p := range s.Programs {
			programs[i] = programName(p)
		}
		fmt.Fprintf(out, "\nSignature requested\n")
		fmt.Fprintf(out, "  Fee payer:    %s\n", s.FeePayer)
		fmt.Fprintf(out, "  Instructions: %d\n", s.Instructions)
		fmt.Fprintf(out, "  Programs:     %s\n", strings.Join(programs, ", "))
		fmt.Fprintf(out, "Sign? [y/N] ")

		type answer struct {
			line string
			err  error
		}
		ch := make(chan answer, 1)
		go func() {
			line, err := reader.ReadString('\n')
			ch <- answer{line, err}
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return false, ctx.Err()
		case a := <-ch:
			if a.err != nil && a.line == "" {
				if a.err == io.EOF {
					return false, nil
				}
				return false, a.err
			}
			switch strings.ToLower(strings.TrimSpace(a.line)) {
			case "y", "yes":
				return true, nil
			}
			return false, nil
		}
	}
}

var knownPrograms = map[solanago.PublicKey]string{
	solanago.SystemProgramID:                    "system",
	solanago.TokenProgramID:                     "spl-token",
	solanago.Token2022ProgramID:                 "token-2022",
	solanago.SPLAssociatedTokenAccountProgramID: "associated-token",
	solanago.TokenMetadataProgramID:             "token-metadata",
}

func programName(p solanago.PublicKey) string {
	if name, ok := knownPrograms[p]; ok {
		return name
	}
	return p.String()
}

// printSink writes one line per status event.
func printSink(w io.Writer, asJSON bool) engine.Sink {
	return engine.SinkFunc(func(ctx context.Context, ev engine.Event) {
		if asJSON {
			data, _ := json.Marshal(ev)
			fmt.Fprintln(w, string(data))
			return
		}
		fmt.Fprintln(w, formatEvent(ev))
	})
}

func formatEvent(ev engine.Event) string {
	line := fmt.Sprintf("[%s] %s", ev.Operation, ev.Stage)
	if ev.Signature != "" {
		line += " signature=" + ev.Signature
	}
	if ev.Mint != "" {
		line += " mint=" + ev.Mint
	}
	if ev.Stage == engine.StageFailed {
		line += fmt.Sprintf(" kind=%s reason=%s", ev.ErrorKind, ev.Reason)
		if ev.Message != "" {
			line += ": " + ev.Message
		}
	}
	return line
}

// Helper function to output JSON
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
