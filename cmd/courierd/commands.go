package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xraph/courier/graph"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/workflow/definition"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.store.Migrate(ctx); err != nil {
					return err
				}
				a.logger.Info("migrations applied", slog.String("store", a.cfg.Store.Driver))
				return nil
			})
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a workflow definition without publishing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := definition.LoadFile(args[0])
			if err != nil {
				return err
			}
			g, err := d.Build(1)
			if err != nil {
				return err
			}
			if err := graph.Validate(g); err != nil {
				var inv *graph.InvalidError
				if errors.As(err, &inv) {
					for _, v := range inv.Violations {
						fmt.Fprintln(cmd.OutOrStdout(), v.String())
					}
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d nodes, %d edges)\n", d.Code, len(g.Nodes), len(g.Edges))
			return nil
		},
	}
}

func newPublishCmd(withApp appRunner, flags *rootFlags) *cobra.Command {
	var activate bool
	cmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Publish a workflow definition as a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := definition.LoadFile(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				caller, err := a.caller(ctx, flags.token)
				if err != nil {
					return err
				}
				g, err := a.admin.PublishWorkflow(ctx, caller, d)
				if err != nil {
					return err
				}
				if activate {
					if err := a.admin.ActivateWorkflow(ctx, caller, g.Workflow.ID); err != nil {
						return err
					}
					g.Workflow.IsActive = true
				}
				return printJSON(cmd.OutOrStdout(), g.Workflow)
			})
		},
	}
	cmd.Flags().BoolVar(&activate, "activate", false, "make the new version the active one")
	return cmd
}

func newActivateCmd(withApp appRunner, flags *rootFlags) *cobra.Command {
	var deactivate bool
	cmd := &cobra.Command{
		Use:   "activate <workflow-id>",
		Short: "Activate a workflow version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wfID, err := id.ParseWorkflowID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				caller, err := a.caller(ctx, flags.token)
				if err != nil {
					return err
				}
				if deactivate {
					return a.admin.DeactivateWorkflow(ctx, caller, wfID)
				}
				return a.admin.ActivateWorkflow(ctx, caller, wfID)
			})
		},
	}
	cmd.Flags().BoolVar(&deactivate, "off", false, "deactivate instead")
	return cmd
}

func newIngestCmd(withApp appRunner, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <workflow-id> <idempotency-key> [payload-json]",
		Short: "Trigger a workflow instance",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			wfID, err := id.ParseWorkflowID(args[0])
			if err != nil {
				return err
			}
			payload := json.RawMessage(`{}`)
			if len(args) == 3 {
				payload = json.RawMessage(args[2])
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				caller, err := a.caller(ctx, flags.token)
				if err != nil {
					return err
				}
				inst, created, err := a.admin.Ingest(ctx, caller, wfID, args[1], payload)
				if err != nil {
					return err
				}
				if !created {
					a.logger.Info("duplicate trigger", slog.String("instance_id", inst.ID.String()))
				}
				return printJSON(cmd.OutOrStdout(), inst)
			})
		},
	}
}

func newCancelCmd(withApp appRunner, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <instance-id>",
		Short: "Cancel a workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instID, err := id.ParseInstanceID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				caller, err := a.caller(ctx, flags.token)
				if err != nil {
					return err
				}
				inst, err := a.admin.CancelInstance(ctx, caller, instID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), inst)
			})
		},
	}
}

func newReplayCmd(withApp appRunner, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <dlq-id>",
		Short: "Re-ingest a dead-lettered instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := id.ParseDLQID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				caller, err := a.caller(ctx, flags.token)
				if err != nil {
					return err
				}
				inst, err := a.admin.ReplayDLQ(ctx, caller, entryID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), inst)
			})
		},
	}
}

func newDrainCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Process every claimable instance once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.engine.RunPending(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d steps\n", n)
				return nil
			})
		},
	}
}

func newStatsCmd(withApp appRunner, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show instance counts per status and the DLQ size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				caller, err := a.caller(ctx, flags.token)
				if err != nil {
					return err
				}
				st, err := a.admin.Stats(ctx, caller)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}
