// Package main provides the entry point for the round finalizer.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"round-finalizer/internal/application"
	"round-finalizer/internal/config"
	dbpkg "round-finalizer/internal/db"
	"round-finalizer/internal/finalize"
	"round-finalizer/internal/ledger"
	"round-finalizer/internal/logger"
	"round-finalizer/internal/quadratic"
	"round-finalizer/internal/storage"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	// defaultSQLitePath is used when DATABASE_URL is not set.
	defaultSQLitePath = "round-finalizer.db"
	// defaultTUILogFile takes the logs while the dashboard owns the terminal.
	defaultTUILogFile = "finalizer.log"
)

var (
	envFile    string
	logFile    string
	chainReads bool
)

// app holds everything a round command needs.
type app struct {
	cfg     config.Config
	log     *logger.Logger
	repo    *dbpkg.Repository
	store   storage.Store
	machine *finalize.Machine
	client  *ethclient.Client
	closers []func()
}

var current *app

var rootCmd = &cobra.Command{
	Use:   "finalizer",
	Short: "Finalize quadratic funding rounds",
	Long: `finalizer closes a quadratic funding round: it collects votes from the
QV strategy, computes the matching distribution, accepts an operator
upload, stores and commits the final distribution on the payout strategy
and marks the round ready for payout.

Configuration comes from QF_* environment variables, an optional YAML file
named by QF_CONFIG_FILE and a .env file in the working directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || (cmd.HasParent() && cmd.Parent().Name() == "completion") {
			return nil
		}
		a, err := setup(cmd.Context(), usesTUI(cmd))
		if err != nil {
			return err
		}
		current = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current != nil {
			current.close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&chainReads, "chain-reads", false, "read votes straight from the ledger instead of the collected database")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func usesTUI(cmd *cobra.Command) bool {
	return cmd.Name() == "watch" || (cmd.Name() == "serve" && serveTUI)
}

func setup(ctx context.Context, tuiActive bool) (*app, error) {
	// Try to load .env if present; otherwise use environment as-is
	if _, statErr := os.Stat(envFile); statErr == nil {
		_ = godotenv.Load(envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DBDialect == "" {
		cfg.DBDialect = config.DatabaseSchemeSQLite
		cfg.DBDsn = defaultSQLitePath
	}

	a := &app{cfg: cfg}
	var logWriter io.Writer = os.Stderr
	path := logFile
	if path == "" && tuiActive {
		path = defaultTUILogFile
		fmt.Fprintf(os.Stderr, "Logs written to %s\n", path)
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logWriter = f
		a.closers = append(a.closers, func() { _ = f.Close() })
	}
	a.log = logger.NewWithWriter(cfg.Debug, logWriter)
	a.log.Debugw("config loaded", "config", cfg.DebugString())

	gormDB, err := dbpkg.Open(cfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := dbpkg.AutoMigrate(gormDB); err != nil {
		a.close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
	}
	a.repo = dbpkg.NewRepository(gormDB)

	if cfg.IPFSAPIURL != "" {
		a.store = storage.NewIPFSStore(cfg.IPFSAPIURL)
	} else {
		a.store = storage.NewDBStore(a.repo)
	}

	if err := a.buildMachine(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// needsLedger reports whether any component talks to the chain directly.
func (a *app) needsLedger() bool {
	return chainReads || a.cfg.PayoutAddress != "" || a.cfg.VoterRegisterAddress != ""
}

func (a *app) buildMachine(ctx context.Context) error {
	if a.needsLedger() {
		client, err := ledger.Dial(ctx, a.cfg.RPCURL)
		if err != nil {
			return err
		}
		a.client = client
		a.closers = append(a.closers, client.Close)
	}

	var registry ledger.Registry = ledger.OpenRegistry{}
	if a.cfg.VoterRegisterAddress != "" {
		registry = ledger.NewVoterRegister(a.client, a.cfg.VoterRegisterAddress)
	}

	var reader ledger.Reader
	if chainReads {
		if a.cfg.StrategyAddress == "" {
			return fmt.Errorf("--chain-reads needs strategy_address")
		}
		reader = ledger.NewChainReader(a.client, registry, a.cfg.StrategyAddress, a.cfg.StartBlock, a.cfg.VoteCredits)
	} else {
		reader = ledger.NewStoredReader(a.repo, registry, a.cfg.VoteCredits, a.log.Named("votes"))
	}

	var payout ledger.PayoutStrategy
	if a.cfg.PayoutAddress != "" {
		p, err := ledger.NewMerklePayout(a.client, a.cfg.PayoutAddress, a.cfg.OperatorKey, a.cfg.ChainID)
		if err != nil {
			return err
		}
		payout = p
	} else {
		a.log.Warnw("payout_address not set, distribution commits are kept in the database", "round", a.cfg.RoundID)
		payout = ledger.NewStoredPayout(a.repo, a.cfg.RoundID)
	}

	repo := a.repo
	a.machine = finalize.New(finalize.Deps{
		Repo:   repo,
		Reader: reader,
		Payout: payout,
		Store:  a.store,
		Projects: func(ctx context.Context, roundID string) ([]quadratic.ProjectInfo, error) {
			return application.Approved(ctx, repo, roundID)
		},
		Log: a.log,
	}, finalize.Options{MaxAttempts: a.cfg.RetryMaxAttempts})

	pool, err := a.cfg.MatchingPoolAmount()
	if err != nil {
		return err
	}
	_, err = a.machine.Register(ctx, finalize.RoundSpec{
		RoundID:     a.cfg.RoundID,
		EndTime:     a.cfg.RoundEnd(),
		Pool:        pool,
		Token:       a.cfg.Token,
		VoteCredits: a.cfg.VoteCredits,
	})
	return err
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// opContext bounds a one-shot command.
func opContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, 10*time.Minute)
}
