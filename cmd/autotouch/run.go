package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/autotouch-core/internal/automation"
	"github.com/nerrad567/autotouch-core/internal/infrastructure/logging"
)

// ErrRunUnsuccessful is returned when a foreground run ends in any state but succeeded.
var ErrRunUnsuccessful = errors.New("run did not succeed")

// cancelGrace is how long an interrupted foreground run gets to wind down.
const cancelGrace = 5 * time.Second

func runCmd(flags *globalFlags) *cobra.Command {
	var (
		serial      string
		account     string
		allAccounts bool
	)

	cmd := &cobra.Command{
		Use:   "run <sequence>",
		Short: "Run one sequence in the foreground",
		Long: "Run one sequence against a device and print the finished run as JSON.\n" +
			"The exit status is non-zero unless the run succeeded.\n\n" +
			"--account runs the variant of the sequence for one account. --all-accounts\n" +
			"runs it once per account, in the order of engine.accounts or else the\n" +
			"order the sequence tags them, and continues past failed accounts.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			log := newLogger(cfg, os.Stderr)

			eng, err := loadEngine(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			deps := eng.supervisorDeps(cfg, adbDevices{client: newADBClient(cfg, log)}, log)
			sup := automation.NewSupervisor(deps)

			if !allAccounts {
				var opts []automation.StartOption
				if account != "" {
					opts = append(opts, automation.WithAccount(account))
				}
				_, err = runSequence(cmd.Context(), sup, args[0], serial, cmd.OutOrStdout(), opts...)
				return err
			}

			accounts, err := accountsFor(eng.catalog, args[0], cfg.Engine.Accounts)
			if err != nil {
				return err
			}
			_, err = runAccounts(cmd.Context(), sup, args[0], serial, accounts, cmd.OutOrStdout(), log)
			return err
		},
	}
	cmd.Flags().StringVarP(&serial, "device", "d", "", "Device serial (default from configuration)")
	cmd.Flags().StringVarP(&account, "account", "a", "", "Run the variant of the sequence for this account")
	cmd.Flags().BoolVar(&allAccounts, "all-accounts", false, "Run the sequence once per account")
	cmd.MarkFlagsMutuallyExclusive("account", "all-accounts")
	return cmd
}

// accountsFor returns the accounts an --all-accounts run cycles through:
// the configured list when set, else the accounts the sequence tags.
func accountsFor(seqs automation.SequenceSource, sequenceID string, configured []string) ([]string, error) {
	if len(configured) > 0 {
		return configured, nil
	}
	group, err := seqs.Get(sequenceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", automation.ErrUnknownSequence, sequenceID)
	}
	accounts := group.Accounts()
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: sequence %q tags no accounts", automation.ErrUnknownAccount, sequenceID)
	}
	return accounts, nil
}

// sequenceRunner is the part of the supervisor a foreground run needs.
type sequenceRunner interface {
	Start(ctx context.Context, sequenceID string, origin automation.Origin, opts ...automation.StartOption) (*automation.RunHandle, error)
	Close(ctx context.Context) error
}

// runSequence starts a run, waits for it and writes the result to out.
//
// Cancelling ctx cancels the run; the cancelled result is still printed.
//
// Parameters:
//   - ctx: Cancelled by SIGINT/SIGTERM
//   - runner: Supervisor that executes the run
//   - sequenceID: Catalog ID of the sequence
//   - serial: Device serial, empty for the default device
//   - out: Destination for the JSON result
//   - opts: Further start options, e.g. automation.WithAccount
//
// Returns:
//   - automation.ActionRun: The finished run
//   - error: If the run could not start, or ErrRunUnsuccessful when it did not succeed
func runSequence(ctx context.Context, runner sequenceRunner, sequenceID, serial string, out io.Writer, opts ...automation.StartOption) (automation.ActionRun, error) {
	if serial != "" {
		opts = append(opts, automation.WithDevice(serial))
	}

	h, err := runner.Start(ctx, sequenceID, automation.OriginCLI, opts...)
	if err != nil {
		return automation.ActionRun{}, fmt.Errorf("starting %s: %w", sequenceID, err)
	}

	select {
	case <-h.Done():
	case <-ctx.Done():
		closeCtx, cancel := context.WithTimeout(context.Background(), cancelGrace)
		defer cancel()
		if closeErr := runner.Close(closeCtx); closeErr != nil {
			return automation.ActionRun{}, closeErr
		}
	}
	run := h.Result()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		return run, fmt.Errorf("writing result: %w", err)
	}

	if run.Result != automation.StateSucceeded {
		return run, fmt.Errorf("%w: %s %s", ErrRunUnsuccessful, run.Result, run.Reason)
	}
	return run, nil
}

// runAccounts runs the sequence once per account, one after another. A failed
// or unknown account is logged and the cycle moves on; an interrupt ends it.
//
// Returns:
//   - []automation.ActionRun: The finished runs, one per account that started
//   - error: ErrRunUnsuccessful naming the failed accounts, or ctx's error
func runAccounts(ctx context.Context, runner sequenceRunner, sequenceID, serial string, accounts []string, out io.Writer, log *logging.Logger) ([]automation.ActionRun, error) {
	var (
		runs   []automation.ActionRun
		failed []string
	)
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return runs, err
		}
		log.Info("running account", "sequence", sequenceID, "account", account)

		run, err := runSequence(ctx, runner, sequenceID, serial, out, automation.WithAccount(account))
		if run.ID != "" {
			runs = append(runs, run)
		}
		if err != nil {
			if !errors.Is(err, ErrRunUnsuccessful) && !errors.Is(err, automation.ErrUnknownAccount) {
				return runs, err
			}
			log.Warn("account run failed", "sequence", sequenceID, "account", account, "error", err)
			failed = append(failed, account)
		}
	}
	if len(failed) > 0 {
		return runs, fmt.Errorf("%w: %d of %d accounts failed: %s",
			ErrRunUnsuccessful, len(failed), len(accounts), strings.Join(failed, ", "))
	}
	return runs, nil
}
