package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/brojonat/mintctl/client"
	"github.com/brojonat/mintctl/service/server"
	"github.com/urfave/cli/v2"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}

			cl := client.NewClient(serverURL, &http.Client{Timeout: c.Duration("timeout")}, newLogger(c))
			if err := cl.Health(c.Context); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			fmt.Printf("✓ Server is healthy\n")
			fmt.Printf("  URL: %s\n", serverURL)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Printf("mintctl CLI\n")
			fmt.Printf("  Version: %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", date)
			return nil
		},
	}
}

// loginCommand mints a bearer token with the server's signing secret. It is
// meant for operators who hold AUTH_SECRET.
func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Issue a bearer token for an owner address",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "auth-secret",
				Usage:    "Token signing secret of the receipts server",
				EnvVars:  []string{"AUTH_SECRET"},
				Required: true,
			},
			&cli.StringFlag{
				Name:  "subject",
				Usage: "Owner address the token is issued for (defaults to the keypair address)",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 720 * time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			subject := c.String("subject")
			if subject == "" {
				addr, err := walletAddress(c)
				if err != nil {
					return fmt.Errorf("--subject is required when no keypair is configured: %w", err)
				}
				subject = addr.String()
			} else if _, err := parseKey(subject, "subject"); err != nil {
				return err
			}

			token, err := server.IssueToken([]byte(c.String("auth-secret")), subject, c.Duration("ttl"))
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]any{
					"subject":    subject,
					"token":      token,
					"expires_at": time.Now().Add(c.Duration("ttl")).UTC(),
				})
			}

			fmt.Fprintf(os.Stderr, "Token for %s (valid %v):\n", subject, c.Duration("ttl"))
			fmt.Println(token)
			fmt.Fprintf(os.Stderr, "\nexport MINTCTL_TOKEN=<token> to record receipts.\n")
			return nil
		},
	}
}
