package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mintctl",
		Usage: "Create and administer SPL tokens",
		Description: `A command-line tool for creating SPL tokens and managing their authorities,
holding accounts and delegates, under either token program.

Every operation pays a flat service fee in the same transaction and asks
before each signature unless --yes is given. With a bearer token
(mintctl login) confirmed operations are recorded by the receipts server.`,
		Version:  fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: commands(),
		// Global flags available to all commands
		Flags: globalFlags(),
	}
}

func commands() []*cli.Command {
	return []*cli.Command{
		// Token operations
		{
			Name:        "op",
			Usage:       "Run a token operation",
			Subcommands: operationCommands(false),
		},
		{
			Name:        "preview",
			Usage:       "Validate an operation against chain state and show its cost without signing",
			Subcommands: operationCommands(true),
		},
		accountsCommand(),
		// Receipts (HTTP API)
		receiptCommands(),
		// Database inspection commands
		{
			Name:  "db",
			Usage: "Database inspection commands",
			Subcommands: []*cli.Command{
				listReceiptsCommand(),
				listPendingCommand(),
				feeTotalCommand(),
				migrateCommand(),
			},
		},
		// Temporal verification commands
		{
			Name:  "temporal",
			Usage: "Receipt verification workflow commands",
			Subcommands: []*cli.Command{
				verifyCommand(),
				describeVerificationCommand(),
				reconcileCommand(),
			},
		},
		// NATS streaming commands
		{
			Name:  "nats",
			Usage: "NATS receipt and status streaming commands",
			Subcommands: []*cli.Command{
				subscribeReceiptsCommand(),
				followStatusCommand(),
				inspectStreamsCommand(),
			},
		},
		loginCommand(),
		// Server utility commands
		{
			Name:  "server",
			Usage: "Server utility commands",
			Subcommands: []*cli.Command{
				healthCommand(),
				versionCommand(),
			},
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "network",
			Usage:   "Cluster name recorded on receipts (mainnet, devnet, testnet, local)",
			EnvVars: []string{"SOLANA_NETWORK"},
			Value:   "devnet",
		},
		&cli.StringFlag{
			Name:    "rpc-url",
			Usage:   "Solana RPC endpoint; a comma-separated list picks one at random",
			EnvVars: []string{"SOLANA_RPC_URL"},
			Value:   "https://api.devnet.solana.com",
		},
		&cli.DurationFlag{
			Name:    "rpc-timeout",
			Usage:   "Timeout for each RPC call",
			EnvVars: []string{"RPC_TIMEOUT"},
			Value:   10 * time.Second,
		},
		&cli.StringFlag{
			Name:    "keypair",
			Aliases: []string{"k"},
			Usage:   "solana-keygen key file that pays and signs",
			EnvVars: []string{"MINTCTL_KEYPAIR"},
			Value:   defaultKeypairPath(),
		},
		&cli.DurationFlag{
			Name:    "signing-timeout",
			Usage:   "How long to wait for a signature",
			EnvVars: []string{"SIGNING_TIMEOUT"},
			Value:   15 * time.Second,
		},
		&cli.DurationFlag{
			Name:    "confirm-timeout",
			Usage:   "How long to wait for confirmation",
			EnvVars: []string{"CONFIRM_TIMEOUT"},
			Value:   90 * time.Second,
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "Interval between confirmation checks",
			EnvVars: []string{"CONFIRM_POLL_INTERVAL"},
			Value:   2 * time.Second,
		},
		&cli.StringFlag{
			Name:    "storage-url",
			Usage:   "Metadata uploader gateway URL (required for create-token)",
			EnvVars: []string{"STORAGE_URL"},
		},
		&cli.StringFlag{
			Name:    "storage-api-key",
			Usage:   "Metadata uploader API key",
			EnvVars: []string{"STORAGE_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "server-url",
			Usage:   "Receipts server URL",
			EnvVars: []string{"SERVER_URL"},
			Value:   "http://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Bearer token; without one operations run as a guest and nothing is recorded",
			EnvVars: []string{"MINTCTL_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server URL",
			EnvVars: []string{"NATS_URL"},
			Value:   "nats://localhost:4222",
		},
		&cli.BoolFlag{
			Name:  "publish-status",
			Usage: "Publish operation status events to NATS",
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "temporal-host",
			Usage:   "Temporal server address",
			EnvVars: []string{"TEMPORAL_HOST"},
			Value:   "localhost:7233",
		},
		&cli.StringFlag{
			Name:    "temporal-namespace",
			Usage:   "Temporal namespace",
			EnvVars: []string{"TEMPORAL_NAMESPACE"},
			Value:   "default",
		},
		&cli.StringFlag{
			Name:    "temporal-task-queue",
			Usage:   "Temporal task queue of the verification worker",
			EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
			Value:   "mintctl-receipts",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level for diagnostics on stderr",
			EnvVars: []string{"LOG_LEVEL"},
			Value:   "warn",
		},
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "Approve every signature request without asking",
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
	}
}
