package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/itsvetkov1/Sentient-Inbox/internal/app"
	"github.com/itsvetkov1/Sentient-Inbox/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "run", "snapshot").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cmd.Context(), cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Mail triage with an encrypted processing record",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:   %s\n", cfg.HostID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Mail:      %s\n", cfg.Mail.Type)
		fmt.Printf("Analysis:  %s\n", cfg.Analysis.Type)
		fmt.Printf("Data Dir:  %s\n", cfg.Storage.DataDir)
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process unread mail once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "run")
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("processing cycle failed: %w", err)
		}

		fmt.Printf("Fetched %d, processed %d, skipped %d, errors %d\n",
			sum.Fetched, sum.Processed, sum.Skipped, sum.Errors)
		for _, msg := range sum.Messages {
			fmt.Printf("  error: %s\n", msg)
		}
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Archive records and key history to the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, _ := cmd.Flags().GetBool("list")

		a, err := newApp(cmd, "snapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		if list {
			ids, err := a.Snapshots(cmd.Context())
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println("No snapshots in vault.")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		}

		id, err := a.Snapshot(cmd.Context())
		if err != nil {
			return fmt.Errorf("snapshot failed: %w", err)
		}
		fmt.Printf("Snapshot %s stored\n", id)
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore SNAPSHOT_ID",
	Short: "Replace local state with a vault snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "restore")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Restore(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored snapshot %s\n", args[0])
		return nil
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every stored record decodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "verify")
		if err != nil {
			return err
		}
		defer a.Close()

		corrupted, err := a.Verify(cmd.Context())
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		if len(corrupted) == 0 {
			fmt.Println("All records verified.")
			return nil
		}
		for _, fp := range corrupted {
			fmt.Printf("corrupted: %s\n", fp)
		}
		return fmt.Errorf("%d record(s) failed verification", len(corrupted))
	},
}

// rotate command
var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Activate a new key generation and re-encrypt records",
	RunE: func(cmd *cobra.Command, args []string) error {
		compact, _ := cmd.Flags().GetBool("compact")

		a, err := newApp(cmd, "rotate")
		if err != nil {
			return err
		}
		defer a.Close()

		gen, err := a.Rotate(cmd.Context(), compact)
		if err != nil {
			return fmt.Errorf("rotation failed: %w", err)
		}
		fmt.Printf("Active key generation: %d\n", gen)

		if !compact {
			erasable, err := a.ErasableGenerations()
			if err == nil && len(erasable) > 0 {
				fmt.Printf("Erasable generations (no records reference them): %v\n", erasable)
				fmt.Println("Run 'sentinel rotate --compact' to erase them.")
			}
		}
		return nil
	},
}

// sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove records past the retention horizon",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "sweep")
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.Sweep(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		fmt.Printf("Removed %d expired record(s)\n", removed)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View past operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "history")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("%-10s  %s  %-10s  p:%d s:%d e:%d  %s\n",
				op.Kind,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				op.Processed, op.Skipped, op.Failed,
				duration,
			)
		}
		return nil
	},
}

// records command
var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List stored processing records",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "records")
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.Records()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No records stored.")
			return nil
		}

		for _, r := range records {
			responded := " "
			if r.ResponseSent {
				responded = "R"
			}
			fmt.Printf("%s  %s  %-15s  %s  %s  %s\n",
				r.Fingerprint[:12],
				responded,
				r.Disposition,
				r.ReceivedAt.Format("2006-01-02 15:04"),
				r.Sender,
				r.Subject,
			)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().Bool("list", false, "List snapshots instead of creating one")
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(rotateCmd)
	rotateCmd.Flags().Bool("compact", false, "Erase key generations no record references")
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(recordsCmd)
}
