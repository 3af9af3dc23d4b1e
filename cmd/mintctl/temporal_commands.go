package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brojonat/mintctl/service/db"
	"github.com/brojonat/mintctl/service/temporal"
	"github.com/urfave/cli/v2"
	enumspb "go.temporal.io/api/enums/v1"
)

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Start (or join) verification of a stored receipt",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "attempts",
				Usage: "How often a missing transaction is re-fetched",
				Value: temporal.DefaultVerifyAttempts,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			receipt, err := store.GetReceipt(c.Context, c.String("network"), c.Args().First())
			if err != nil {
				if errors.Is(err, db.ErrNotFound) {
					return fmt.Errorf("no receipt %s on %s", c.Args().First(), c.String("network"))
				}
				return fmt.Errorf("failed to get receipt: %w", err)
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			runID, err := tc.StartReceiptVerification(c.Context, temporal.VerifyReceiptInput{
				Network:     receipt.Network,
				Signature:   receipt.Signature,
				Operation:   receipt.Operation,
				Owner:       receipt.Owner,
				MaxAttempts: int32(c.Int("attempts")),
			})
			if err != nil {
				return fmt.Errorf("failed to start verification: %w", err)
			}

			fmt.Printf("Workflow ID: %s\n", temporal.WorkflowID(receipt.Network, receipt.Signature))
			fmt.Printf("Run ID:      %s\n", runID)
			return nil
		},
	}
}

func describeVerificationCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "Show the verification workflow of a receipt",
		Aliases:   []string{"desc"},
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			workflowID := temporal.WorkflowID(c.String("network"), c.Args().First())
			desc, err := tc.SDKClient().DescribeWorkflowExecution(c.Context, workflowID, "")
			if err != nil {
				return fmt.Errorf("failed to describe workflow: %w", err)
			}
			info := desc.GetWorkflowExecutionInfo()

			var result *temporal.VerifyReceiptResult
			if info.GetStatus() == enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED {
				result = &temporal.VerifyReceiptResult{}
				if err := tc.SDKClient().GetWorkflow(c.Context, workflowID, "").Get(c.Context, result); err != nil {
					return fmt.Errorf("failed to read workflow result: %w", err)
				}
			}

			if c.Bool("json") {
				return outputJSON(map[string]any{
					"workflow_id": workflowID,
					"run_id":      info.GetExecution().GetRunId(),
					"status":      info.GetStatus().String(),
					"start_time":  info.GetStartTime().AsTime(),
					"result":      result,
				})
			}

			fmt.Printf("Workflow ID: %s\n", workflowID)
			fmt.Printf("Run ID:      %s\n", info.GetExecution().GetRunId())
			fmt.Printf("Status:      %s\n", info.GetStatus().String())
			fmt.Printf("Started:     %s\n", info.GetStartTime().AsTime().Format(time.RFC3339))
			if info.GetCloseTime() != nil {
				fmt.Printf("Closed:      %s\n", info.GetCloseTime().AsTime().Format(time.RFC3339))
			}
			if result != nil {
				fmt.Printf("Outcome:     %s\n", result.Status)
				if result.Reason != nil {
					fmt.Printf("Reason:      %s\n", *result.Reason)
				}
				fmt.Printf("Fee charged: %v\n", result.FeeCharged)
			}
			return nil
		},
	}
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Start verification for every pending receipt",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "since",
				Usage: "Only receipts created within this window",
				Value: 24 * time.Hour,
			},
			&cli.IntFlag{
				Name:  "attempts",
				Usage: "How often a missing transaction is re-fetched",
				Value: temporal.DefaultVerifyAttempts,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			report, err := temporal.ReconcilePending(c.Context, store, tc, c.String("network"),
				time.Now().Add(-c.Duration("since")), c.Int("attempts"), newLogger(c))
			if err != nil {
				return fmt.Errorf("failed to reconcile: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(report)
			}
			fmt.Printf("Pending: %d\n", report.Pending)
			fmt.Printf("Started: %d\n", report.Started)
			for _, sig := range report.Failed {
				fmt.Fprintf(os.Stderr, "  failed to start: %s\n", sig)
			}
			if len(report.Failed) > 0 {
				return cli.Exit(fmt.Sprintf("%d receipts could not be started", len(report.Failed)), 1)
			}
			return nil
		},
	}
}

// Helper function to create Temporal client
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		newLogger(c),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	return tc, nil
}
