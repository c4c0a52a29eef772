package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dvloznov/finance-backup/internal/app"
	"github.com/dvloznov/finance-backup/internal/backup"
	"github.com/dvloznov/finance-backup/internal/config"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/dvloznov/finance-backup/internal/gcs"
	"github.com/dvloznov/finance-backup/internal/logger"
	"github.com/spf13/cobra"
)

// cli carries the state shared by every subcommand.
type cli struct {
	configPath string
	app        *app.App
	ctx        context.Context
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "financectl",
		Short:         "Back up, restore and verify a finance ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("FINANCE_CONFIG"), "Path to YAML config file (or set FINANCE_CONFIG env)")

	root.AddCommand(
		c.backupCmd(),
		c.snapshotsCmd(),
		c.restoreCmd(),
		c.exportCmd(),
		c.importCmd(),
		c.checkCmd(),
		c.cleanupCmd(),
		c.schemaCmd(),
	)
	return root
}

func (c *cli) open(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Out: cmd.ErrOrStderr()})
	c.ctx = logger.WithContext(cmd.Context(), log)

	c.app, err = app.New(c.ctx, cfg)
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) backupCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the whole ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := c.app.Orchestrator.Backup(c.ctx, description)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("backup failed: %s", res.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Snapshot description")
	return cmd
}

func (c *cli) snapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshots",
		Aliases: []string{"ls"},
		Short:   "List snapshots, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := c.app.Orchestrator.Snapshots(c.ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(snaps) == 0 {
				fmt.Fprintln(out, "No snapshots.")
				return nil
			}
			for _, s := range snaps {
				fmt.Fprintf(out, "%s  %s  %6d  %s\n", s.ID, s.Timestamp.Format("2006-01-02 15:04:05"), s.TransactionCount, s.Description)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print one snapshot with its transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := c.app.Orchestrator.Snapshot(c.ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	})
	return cmd
}

// restoreFlags binds the options shared by restore and import.
func restoreFlags(cmd *cobra.Command, policy *string, safety *bool) {
	cmd.Flags().StringVar(policy, "policy", string(domain.PolicyMerge), "Merge policy: replace, merge or merge-newer")
	cmd.Flags().BoolVar(safety, "safety-backup", true, "Snapshot the current ledger first")
}

func restoreOptions(policy string, safety bool) (backup.RestoreOptions, error) {
	p, err := domain.ParseMergePolicy(policy)
	if err != nil {
		return backup.RestoreOptions{}, err
	}
	return backup.RestoreOptions{Policy: p, SafetyBackup: safety}, nil
}

func finishRestore(w io.Writer, res backup.RestoreResult) error {
	if err := printJSON(w, res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("restore failed: %s", res.Message)
	}
	return nil
}

func (c *cli) restoreCmd() *cobra.Command {
	var (
		policy string
		safety bool
	)
	cmd := &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Apply a snapshot to the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := restoreOptions(policy, safety)
			if err != nil {
				return err
			}
			return finishRestore(cmd.OutOrStdout(), c.app.Orchestrator.Restore(c.ctx, args[0], opts))
		},
	}
	restoreFlags(cmd, &policy, &safety)
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the ledger as an export file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := c.app.Orchestrator.Export(c.ctx)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				return printJSON(cmd.OutOrStdout(), file)
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := printJSON(f, file); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d transactions to %s\n", file.TotalTransactions, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	var (
		policy string
		safety bool
	)
	cmd := &cobra.Command{
		Use:   "import <file|gs://bucket/object>",
		Short: "Restore the ledger from an export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := restoreOptions(policy, safety)
			if err != nil {
				return err
			}

			r, err := c.openSource(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			file, issues, err := backup.DecodeExport(r)
			for _, issue := range issues {
				fmt.Fprintln(cmd.ErrOrStderr(), "  -", issue)
			}
			if err != nil {
				return err
			}
			return finishRestore(cmd.OutOrStdout(), c.app.Orchestrator.RestoreFromExport(c.ctx, file, opts))
		},
	}
	restoreFlags(cmd, &policy, &safety)
	return cmd
}

// openSource opens a local path or downloads a gs:// object.
func (c *cli) openSource(src string) (io.ReadCloser, error) {
	if !strings.HasPrefix(src, "gs://") {
		return os.Open(src)
	}

	bucket, _, err := gcs.ParseURI(src)
	if err != nil {
		return nil, err
	}
	client, err := gcs.NewClient(c.ctx, bucket)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	data, err := client.FetchURI(c.ctx, src)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (c *cli) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run an integrity check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.app.Orchestrator.CheckIntegrity(c.ctx)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Passed {
				return fmt.Errorf("integrity check found %d issue(s)", len(report.Issues))
			}
			return nil
		},
	}
}

func (c *cli) cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete content duplicates, keeping the oldest of each group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := c.app.Orchestrator.Cleanup(c.ctx)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("cleanup failed: %s", res.Message)
			}
			return nil
		},
	}
}

func (c *cli) schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the ledger table or indexes for the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch {
			case c.app.BigQuery != nil:
				if err := c.app.BigQuery.EnsureSchema(c.ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "BigQuery dataset and table are ready.")
			case c.app.Mongo != nil:
				if err := c.app.Mongo.EnsureIndexes(c.ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "MongoDB indexes are ready.")
			default:
				fmt.Fprintf(out, "Backend %q needs no schema.\n", c.app.Config.Backend)
			}
			return nil
		},
	}
}
