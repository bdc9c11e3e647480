// Package app is the application layer between the CLI and the processing
// packages. It constructs all dependencies from config, exposes one
// high-level method per CLI command, and records every command in the
// operation history.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/itsvetkov1/Sentient-Inbox/internal/analysis"
	"github.com/itsvetkov1/Sentient-Inbox/internal/codec"
	"github.com/itsvetkov1/Sentient-Inbox/internal/config"
	"github.com/itsvetkov1/Sentient-Inbox/internal/history"
	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
	"github.com/itsvetkov1/Sentient-Inbox/internal/keyring"
	"github.com/itsvetkov1/Sentient-Inbox/internal/llm"
	"github.com/itsvetkov1/Sentient-Inbox/internal/mail"
	"github.com/itsvetkov1/Sentient-Inbox/internal/store"
	"github.com/itsvetkov1/Sentient-Inbox/internal/vault"
)

// App wires the record store, keyring, vault, and history together. Mail and
// analysis collaborators are constructed lazily by Run, so storage-only
// commands (snapshot, verify, rotate) work without mail or model credentials.
type App struct {
	cfg     *config.Config
	keys    *keyring.Keyring
	store   *store.FileStore
	vault   inbox.Vault
	history *history.Store
	logger  inbox.Logger
	clock   inbox.Clock
	logFile *os.File
}

// New creates a fully wired App from the given config. operation identifies
// the CLI command being run (e.g. "run", "snapshot"). The caller must call
// Close when done.
func New(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	pass, err := resolvePassphrase(cfg.Keys)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	clock := inbox.RealClock{}
	keys, err := keyring.Open(cfg.Keys.Path, pass, clock)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening key history: %w", err)
	}

	st, err := store.Open(cfg.Storage.DataDir, codec.New(keys), keys, logger, clock)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening record store: %w", err)
	}

	if len(cfg.Vaults) == 0 {
		logFile.Close()
		return nil, fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	hist, err := history.NewStoreFromConfig(cfg.History, cfg.HostID)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening operation history: %w", err)
	}

	logger.Info("initialized", "operation", operation, "host", cfg.HostID)
	return &App{
		cfg:     cfg,
		keys:    keys,
		store:   st,
		vault:   v,
		history: hist,
		logger:  logger,
		clock:   clock,
		logFile: logFile,
	}, nil
}

// Run executes one processing cycle: fetch unread mail, analyze, decide,
// persist, and act. It returns the cycle summary.
func (a *App) Run(ctx context.Context) (*inbox.RunSummary, error) {
	mailbox, err := mail.NewMailboxFromConfig(a.cfg.Mail, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating mailbox: %w", err)
	}

	client, err := llm.NewAnalysisClientFromConfig(a.cfg.Analysis)
	if err != nil {
		return nil, fmt.Errorf("creating analysis client: %w", err)
	}
	analyzer := analysis.NewOrchestrator(client, analysis.Config{
		MaxAttempts: a.cfg.Analysis.Retry.MaxAttempts,
		BackoffBase: a.cfg.Analysis.Retry.BackoffBase(),
		BackoffCap:  a.cfg.Analysis.Retry.BackoffCap(),
	}, a.logger)

	pipeline := inbox.NewPipeline(mailbox, analyzer, a.store, inbox.NewDispositionEngine(),
		a.logger, a.clock, inbox.PipelineConfig{
			Workers:     a.cfg.Pipeline.Workers,
			MaxAttempts: a.cfg.Analysis.Retry.MaxAttempts,
			BackoffBase: a.cfg.Analysis.Retry.BackoffBase(),
			BackoffCap:  a.cfg.Analysis.Retry.BackoffCap(),
		})

	opID, err := a.history.StartOperation(ctx, "run", a.clock.Now())
	if err != nil {
		return nil, err
	}

	sum, runErr := pipeline.Run(ctx)
	status := history.StatusCompleted
	detail := ""
	if runErr != nil {
		status = history.StatusFailed
		detail = runErr.Error()
	}
	var processed, skipped, failed int
	if sum != nil {
		processed, skipped, failed = sum.Processed, sum.Skipped, sum.Errors
	}
	if err := a.history.FinishOperation(ctx, opID, status, a.clock.Now(), processed, skipped, failed, detail); err != nil {
		a.logger.Warn("failed to record operation finish", "error", err)
	}
	return sum, runErr
}

// Snapshot archives the record store and key history to the vault, then
// prunes old snapshots down to the configured count.
func (a *App) Snapshot(ctx context.Context) (string, error) {
	var snapID string
	_, err := a.trackSimple(ctx, "snapshot", func() (int, error) {
		if err := a.vault.ValidateSetup(ctx); err != nil {
			return 0, fmt.Errorf("validating vault: %w", err)
		}

		id, err := a.store.Snapshot(ctx, a.vault)
		if err != nil {
			return 0, err
		}
		snapID = id

		if keep := a.cfg.Pipeline.SnapshotKeep; keep > 0 {
			pruned, err := store.PruneSnapshots(ctx, a.vault, keep)
			if err != nil {
				a.logger.Warn("snapshot pruning failed", "error", err)
			} else if pruned > 0 {
				a.logger.Info("pruned old snapshots", "count", pruned)
			}
		}
		return a.store.Count(), nil
	})
	if err != nil {
		return "", err
	}
	return snapID, nil
}

// Restore replaces the record store and key history with the contents of a
// vault snapshot. A checksum mismatch leaves the current state untouched.
func (a *App) Restore(ctx context.Context, snapshotID string) error {
	_, err := a.trackSimple(ctx, "restore", func() (int, error) {
		return 0, a.store.Restore(ctx, a.vault, snapshotID)
	})
	return err
}

// Verify decodes every stored record and returns the fingerprints that fail.
func (a *App) Verify(ctx context.Context) ([]string, error) {
	var corrupted []string
	_, err := a.trackSimple(ctx, "verify", func() (int, error) {
		var verr error
		corrupted, verr = a.store.VerifyIntegrity()
		return len(corrupted), verr
	})
	return corrupted, err
}

// Rotate activates a new key generation and re-encrypts all stored records
// under it. When compact is true, retired generations no stored record
// references are erased from the key history afterwards.
func (a *App) Rotate(ctx context.Context, compact bool) (uint64, error) {
	var gen uint64
	_, err := a.trackSimple(ctx, "rotate", func() (int, error) {
		n, err := a.keys.Rotate()
		if err != nil {
			return 0, err
		}
		gen = n

		reencrypted, err := a.store.ReencryptAll()
		if err != nil {
			return 0, fmt.Errorf("re-encrypting records: %w", err)
		}
		a.logger.Info("rotated key generation", "generation", gen, "reencrypted", reencrypted)

		if compact {
			referenced, err := a.store.ReferencedGenerations()
			if err != nil {
				return reencrypted, fmt.Errorf("scanning referenced generations: %w", err)
			}
			dropped, err := a.keys.Compact(referenced)
			if err != nil {
				return reencrypted, fmt.Errorf("compacting key history: %w", err)
			}
			a.logger.Info("compacted key history", "dropped", dropped)
		}
		return reencrypted, nil
	})
	return gen, err
}

// Sweep removes records older than the retention horizon, then takes a
// checkpoint snapshot of the reduced store.
func (a *App) Sweep(ctx context.Context) (int, error) {
	days := a.cfg.Storage.RetentionDays
	if days <= 0 {
		days = 90
	}
	horizon := a.clock.Now().AddDate(0, 0, -days)

	var removed int
	_, err := a.trackSimple(ctx, "sweep", func() (int, error) {
		var serr error
		removed, serr = a.store.Sweep(horizon)
		return removed, serr
	})
	if err != nil {
		return removed, err
	}

	if removed > 0 {
		if _, err := a.Snapshot(ctx); err != nil {
			return removed, fmt.Errorf("checkpoint snapshot after sweep: %w", err)
		}
	}
	return removed, nil
}

// Records returns all stored records, skipping any that fail to decode.
func (a *App) Records() ([]*inbox.Record, error) {
	var out []*inbox.Record
	for rec, err := range a.store.All() {
		if err != nil {
			a.logger.Warn("skipping unreadable record", "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// History returns the most recent operations, newest first.
func (a *App) History(ctx context.Context, limit int) ([]history.Operation, error) {
	return a.history.Recent(ctx, limit)
}

// Snapshots lists snapshot IDs available in the vault, ascending.
func (a *App) Snapshots(ctx context.Context) ([]string, error) {
	return a.vault.ListSnapshots(ctx)
}

// ErasableGenerations reports retired key generations no stored record
// references.
func (a *App) ErasableGenerations() ([]uint64, error) {
	referenced, err := a.store.ReferencedGenerations()
	if err != nil {
		return nil, err
	}
	return a.keys.Erasable(referenced), nil
}

// trackSimple records an operation around fn, using fn's count as the
// processed figure.
func (a *App) trackSimple(ctx context.Context, kind string, fn func() (int, error)) (string, error) {
	opID, err := a.history.StartOperation(ctx, kind, a.clock.Now())
	if err != nil {
		return "", err
	}

	count, fnErr := fn()
	status := history.StatusCompleted
	detail := ""
	if fnErr != nil {
		status = history.StatusFailed
		detail = fnErr.Error()
	}
	if err := a.history.FinishOperation(ctx, opID, status, a.clock.Now(), count, 0, 0, detail); err != nil {
		a.logger.Warn("failed to record operation finish", "error", err)
	}
	return opID, fnErr
}

// Close releases the history database and log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.history.Close(); err != nil {
		firstErr = fmt.Errorf("closing history: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
