package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"round-finalizer/internal/api"
	"round-finalizer/internal/application"
	"round-finalizer/internal/collector"
	"round-finalizer/internal/finalize"
	"round-finalizer/internal/tui"

	"github.com/spf13/cobra"
)

var (
	serveCollect bool
	serveTUI     bool
	watchEvery   time.Duration
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Follow the QV strategy and store Voted events",
	Long: `Polls the ledger from the stored cursor (or start_block) to the head,
storing every Voted event, the voter register status of each new voter and
QV factory events. Reconnects with backoff when the RPC endpoint fails or
the head stops moving.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		coll := collector.NewCollector(current.cfg, current.repo, collector.DialRPC(current.cfg.RPCURL), current.log)
		defer coll.Close()
		return coll.Run(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the operator HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if serveCollect {
			coll := collector.NewCollector(current.cfg, current.repo, collector.DialRPC(current.cfg.RPCURL), current.log)
			go func() {
				if err := coll.Run(ctx); err != nil {
					current.log.Errorw("collector stopped", "error", err)
				}
			}()
		}

		tuiDone := make(chan struct{})
		if serveTUI {
			updates := make(chan interface{}, tui.UpdateBufferSize)
			current.machine.Observe(tui.Observer(current.cfg.RoundID, updates))
			go tui.Poll(ctx, current.machine, current.cfg.RoundID, watchEvery, updates, current.log)
			go func() {
				defer close(tuiDone)
				if err := tui.Run(ctx, updates); err != nil {
					current.log.Errorw("TUI error", "error", err)
				}
				// TUI exited, cancel context to trigger shutdown
				cancel()
			}()
		} else {
			close(tuiDone)
		}

		srv := api.NewServer(current.machine, current.log)
		srv.Start(current.cfg.HTTPAddr)

		<-ctx.Done()
		current.log.Infow("shutting down")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			current.log.Warnw("http shutdown", "error", err)
		}
		<-tuiDone
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show the round on a terminal dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		updates := make(chan interface{}, tui.UpdateBufferSize)
		go tui.Poll(ctx, current.machine, current.cfg.RoundID, watchEvery, updates, current.log)
		return tui.Run(ctx, updates)
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the round state",
	RunE: func(cmd *cobra.Command, args []string) error {
		round, err := current.machine.Round(cmd.Context(), current.cfg.RoundID)
		if err != nil {
			return err
		}
		op, steps := current.machine.Progress(current.cfg.RoundID)
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"round":     round.RoundID,
			"state":     round.State,
			"endTime":   round.EndTime,
			"custom":    round.ProposalCustom,
			"pointer":   round.DistributionPointer,
			"root":      round.MerkleRoot,
			"lastError": round.LastError,
			"operation": op,
			"steps":     steps,
		})
	},
}

var tallyCmd = &cobra.Command{
	Use:   "tally",
	Short: "Close voting once the round end time has passed",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := current.machine.BeginTally(cmd.Context(), current.cfg.RoundID, time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), state)
		return nil
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the distribution computed from the current votes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := opContext(cmd.Context())
		defer cancel()
		dist, err := current.machine.Preview(ctx, current.cfg.RoundID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), dist)
	},
}

var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Propose the computed distribution",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := opContext(cmd.Context())
		defer cancel()
		dist, err := current.machine.ProposeDefault(ctx, current.cfg.RoundID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), dist)
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Propose an operator-authored distribution file",
	Long: `Validates the uploaded distribution against the computed one: every
approved project must be present and the match pool percentages must add
up to 1.0000. A rejected upload leaves the active distribution in place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		ctx, cancel := opContext(cmd.Context())
		defer cancel()
		dist, err := current.machine.ProposeCustom(ctx, current.cfg.RoundID, f)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), dist)
	},
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Store the active distribution and commit it on the payout strategy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := opContext(cmd.Context())
		defer cancel()
		state, err := current.machine.Finalize(ctx, current.cfg.RoundID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), state)
		return nil
	},
}

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "Verify the finalized distribution and mark the round ready for payout",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := opContext(cmd.Context())
		defer cancel()
		state, err := current.machine.MarkReadyForPayout(ctx, current.cfg.RoundID)
		if err != nil {
			var reviewErr *finalize.ReviewError
			if errors.As(err, &reviewErr) {
				return fmt.Errorf("round is now %s: %w", state, err)
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), state)
		return nil
	},
}

var proofCmd = &cobra.Command{
	Use:   "proof [project]",
	Short: "Print the payout claim of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		claim, err := current.machine.Proof(cmd.Context(), current.cfg.RoundID, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), claim)
	},
}

var importCmd = &cobra.Command{
	Use:   "import-applications [file]",
	Short: "Import round applications and their metadata",
	Long: `Reads a JSON array of application refs (id, project, status, metaPtr),
fetches each approved application's metadata from content storage and
stores the round's projects.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		refs, err := application.ParseRefs(f)
		if err != nil {
			return err
		}

		ctx, cancel := opContext(cmd.Context())
		defer cancel()
		loader := application.NewLoader(current.store, current.repo, current.log.Named("applications"))
		n, err := loader.Import(ctx, current.cfg.RoundID, refs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d approved projects of %d applications\n", n, len(refs))
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveCollect, "collect", false, "run the vote collector alongside the API")
	serveCmd.Flags().BoolVar(&serveTUI, "tui", false, "show the terminal dashboard while serving")
	serveCmd.Flags().DurationVar(&watchEvery, "refresh", 2*time.Second, "dashboard refresh interval")
	watchCmd.Flags().DurationVar(&watchEvery, "refresh", 2*time.Second, "dashboard refresh interval")

	rootCmd.AddCommand(
		collectCmd,
		serveCmd,
		watchCmd,
		stateCmd,
		tallyCmd,
		previewCmd,
		proposeCmd,
		uploadCmd,
		finalizeCmd,
		readyCmd,
		proofCmd,
		importCmd,
	)
}
