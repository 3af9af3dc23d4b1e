package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/mintctl/service/engine"
	natspkg "github.com/brojonat/mintctl/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeReceiptsCommand streams receipt events for one owner or all.
func subscribeReceiptsCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to receipt events",
		ArgsUsage: "[OWNER]",
		Description: `Subscribe to receipt events published to NATS JetStream.

Events are published to the subject receipts.{owner}, once when a receipt is
accepted and again when its verification finishes. Without OWNER every
owner's receipts are streamed.

Example:
  mintctl nats subscribe 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "mintctl-cli",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.ReceiptSubjects
			if owner := c.Args().First(); owner != "" {
				subject = fmt.Sprintf(natspkg.ReceiptSubjectPattern, owner)
			}

			cfg := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
			}
			if c.Bool("durable") {
				cfg.Durable = c.String("consumer-name")
				cfg.Name = c.String("consumer-name")
			}

			jsonOutput := c.Bool("json")
			if !jsonOutput {
				fmt.Printf("📡 Subscribing to: %s\n", subject)
				fmt.Printf("   NATS: %s\n", c.String("nats-url"))
				fmt.Printf("\nWaiting for receipts... (Ctrl-C to exit)\n\n")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			count := 0
			return consume(ctx, c.String("nats-url"), natspkg.ReceiptStream, cfg, func(data []byte) bool {
				var event natspkg.ReceiptEvent
				if err := json.Unmarshal(data, &event); err != nil {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
					return false
				}
				count++
				if jsonOutput {
					fmt.Println(string(data))
					return false
				}
				fmt.Printf("🧾 Receipt #%d\n", count)
				fmt.Printf("   Signature: %s\n", event.Signature)
				fmt.Printf("   Operation: %s\n", event.Operation)
				fmt.Printf("   Owner:     %s\n", event.Owner)
				fmt.Printf("   Status:    %s\n", event.VerificationStatus)
				if event.VerificationReason != nil {
					fmt.Printf("   Reason:    %s\n", *event.VerificationReason)
				}
				fmt.Printf("   Published: %s\n\n", event.PublishedAt.Format(time.RFC3339))
				return false
			})
		},
	}
}

// followStatusCommand prints one operation's status events until it is
// done or has failed.
func followStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "follow",
		Usage:     "Follow the status events of one operation",
		ArgsUsage: "OPERATION_ID",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up after this long",
				Value: 5 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: operation id")
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			cfg := jetstream.ConsumerConfig{
				FilterSubject: fmt.Sprintf(natspkg.StatusSubjectPattern, c.Args().First()),
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverAllPolicy,
			}

			var last engine.Event
			err := consume(ctx, c.String("nats-url"), natspkg.StatusStream, cfg, func(data []byte) bool {
				if err := json.Unmarshal(data, &last); err != nil {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
					return false
				}
				if c.Bool("json") {
					fmt.Println(string(data))
				} else {
					fmt.Println(formatEvent(last))
				}
				return terminalStage(last.Stage)
			})
			if err != nil {
				return err
			}
			if last.Stage == engine.StageFailed {
				return cli.Exit("operation failed", 1)
			}
			return nil
		},
	}
}

func inspectStreamsCommand() *cli.Command {
	return &cli.Command{
		Name:  "streams",
		Usage: "Show the state of the receipt and status streams",
		Action: func(c *cli.Context) error {
			nc, err := natspkg.Connect(c.String("nats-url"), "mintctl-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			infos := make([]*jetstream.StreamInfo, 0, 2)
			for _, name := range []string{natspkg.ReceiptStream, natspkg.StatusStream} {
				stream, err := js.Stream(c.Context, name)
				if err != nil {
					return fmt.Errorf("failed to open stream %s: %w", name, err)
				}
				info, err := stream.Info(c.Context)
				if err != nil {
					return fmt.Errorf("failed to read stream %s: %w", name, err)
				}
				infos = append(infos, info)
			}

			if c.Bool("json") {
				return outputJSON(infos)
			}
			for _, info := range infos {
				fmt.Printf("%s\n", info.Config.Name)
				fmt.Printf("  Subjects:  %v\n", info.Config.Subjects)
				fmt.Printf("  Messages:  %d\n", info.State.Msgs)
				fmt.Printf("  Bytes:     %d\n", info.State.Bytes)
				fmt.Printf("  Consumers: %d\n", info.State.Consumers)
				fmt.Printf("  Max age:   %v\n\n", info.Config.MaxAge)
			}
			return nil
		},
	}
}

func terminalStage(s engine.Stage) bool {
	return s == engine.StageDone || s == engine.StageFailed
}

// consume delivers each message of stream matching cfg to handle until
// handle returns true or ctx ends. Reaching the deadline is not an error.
func consume(ctx context.Context, natsURL, stream string, cfg jetstream.ConsumerConfig, handle func([]byte) bool) error {
	nc, err := natspkg.Connect(natsURL, "mintctl-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, stream, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgChan := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	for {
		select {
		case msg := <-msgChan:
			done := handle(msg.Data())
			msg.Ack()
			if done {
				return nil
			}
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("timed out waiting for events")
			}
			return nil
		}
	}
}
