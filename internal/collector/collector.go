// Package collector follows a round's QV strategy and stores its Voted
// events, the register status of every voter and factory events.
package collector

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"round-finalizer/internal/config"
	"round-finalizer/internal/db"
	"round-finalizer/internal/ledger"
	"round-finalizer/internal/logger"
	"round-finalizer/internal/models"
	"round-finalizer/internal/quadratic"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Dialer opens a ledger connection; the returned func releases it.
type Dialer func(ctx context.Context) (ledger.Backend, func(), error)

// DialRPC connects to the configured JSON-RPC endpoint.
func DialRPC(rpcURL string) Dialer {
	return func(ctx context.Context) (ledger.Backend, func(), error) {
		client, err := ledger.Dial(ctx, rpcURL)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
}

type Collector struct {
	cfg  config.Config
	repo *db.Repository
	dial Dialer
	log  *logger.Logger

	backend  ledger.Backend
	registry ledger.Registry
	release  func()

	lastBlock       uint64
	lastBlockTime   time.Time
	lastBlockTimeMu sync.RWMutex
	watchdog        time.Duration
	retryInterval   time.Duration
}

func NewCollector(cfg config.Config, repo *db.Repository, dial Dialer, log *logger.Logger) *Collector {
	watchdog := 30 * time.Second
	if w := 10 * cfg.PollInterval; w > watchdog {
		watchdog = w
	}
	return &Collector{
		cfg:           cfg,
		repo:          repo,
		dial:          dial,
		log:           log.Named("collector"),
		watchdog:      watchdog,
		retryInterval: time.Second,
	}
}

func (c *Collector) cursorName() string {
	return "votes:" + c.cfg.RoundID
}

// Run polls until ctx is cancelled, reconnecting with backoff after errors
// and when the chain head stops moving.
func (c *Collector) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	for {
		err := c.runLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case err != nil && IsUnavailable(err):
			c.log.Warnw("ledger unavailable, reconnecting", "error", err)
		case err != nil && !strings.HasPrefix(err.Error(), "reconnect:"):
			c.log.Errorw("collector loop failed, reconnecting", "error", err)
		default:
			b.Reset()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.NextBackOff()):
		}
	}
}

func (c *Collector) runLoop(ctx context.Context) error {
	defer c.cleanupClient()

	if err := c.initClient(ctx); err != nil {
		return err
	}
	c.updateLastBlockTime()

	if _, err := c.Poll(ctx); err != nil {
		return err
	}
	return c.pollLoop(ctx)
}

// initClient dials the ledger and binds the voter register.
func (c *Collector) initClient(ctx context.Context) error {
	backend, release, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect ledger: %w", err)
	}
	c.backend = backend
	c.release = release
	if c.cfg.VoterRegisterAddress != "" {
		c.registry = ledger.NewVoterRegister(backend, c.cfg.VoterRegisterAddress)
	} else {
		c.registry = ledger.OpenRegistry{}
	}
	return nil
}

func (c *Collector) cleanupClient() {
	if c.release != nil {
		c.release()
	}
	c.backend = nil
	c.release = nil
}

// pollLoop polls every PollInterval and watches for a stalled head.
func (c *Collector) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Poll(ctx); err != nil {
				return err
			}
			if c.shouldReconnect() {
				c.log.Warnw("no new blocks, reconnecting", "since", c.watchdog)
				c.updateLastBlockTime()
				return fmt.Errorf("reconnect: no new blocks for %s", c.watchdog)
			}
		}
	}
}

// updateLastBlockTime updates the last block time (thread-safe)
func (c *Collector) updateLastBlockTime() {
	c.lastBlockTimeMu.Lock()
	c.lastBlockTime = time.Now()
	c.lastBlockTimeMu.Unlock()
}

func (c *Collector) shouldReconnect() bool {
	c.lastBlockTimeMu.RLock()
	defer c.lastBlockTimeMu.RUnlock()
	return time.Since(c.lastBlockTime) > c.watchdog
}

// Poll processes the blocks after the stored cursor up to the current head
// and returns the number of Voted events read.
func (c *Collector) Poll(ctx context.Context) (int, error) {
	if c.backend == nil {
		if err := c.initClient(ctx); err != nil {
			return 0, err
		}
	}
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, &ledger.LedgerUnavailableError{Op: "block number", Err: err}
	}
	if head > c.lastBlock {
		c.lastBlock = head
		c.updateLastBlockTime()
	}

	from := c.cfg.StartBlock
	last, ok, err := c.repo.Cursor(ctx, c.cursorName())
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if ok {
		from = last + 1
	}
	if from > head {
		return 0, nil
	}

	votes, err := c.collectVotes(ctx, from, head)
	if err != nil {
		return 0, err
	}
	if err := c.collectFactory(ctx, from, head); err != nil {
		return 0, err
	}
	if err := c.repo.SetCursor(ctx, c.cursorName(), head); err != nil {
		return 0, fmt.Errorf("store cursor: %w", err)
	}
	if votes > 0 {
		c.log.Infow("votes collected", "round", c.cfg.RoundID, "count", votes, "from", from, "to", head)
	} else {
		c.log.Debugw("blocks processed", "from", from, "to", head)
	}
	return votes, nil
}

func (c *Collector) collectVotes(ctx context.Context, from, to uint64) (int, error) {
	if c.cfg.StrategyAddress == "" {
		return 0, nil
	}
	q := ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(c.cfg.StrategyAddress)},
		Topics:    [][]common.Hash{{ledger.VotedTopic()}},
	}
	logs, err := ledger.FilterLogsChunked(ctx, c.backend, q, from, to)
	if err != nil {
		return 0, err
	}

	rows := make([]models.Vote, 0, len(logs))
	var voters []string
	seen := make(map[string]bool)
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := ledger.DecodeVoted(lg)
		if err != nil {
			c.log.Warnw("skipping undecodable log", "tx", lg.TxHash.Hex(), "index", lg.Index, "error", err)
			continue
		}
		voter := quadratic.Normalize(ev.Voter.Hex())
		rows = append(rows, models.Vote{
			RoundID:     c.cfg.RoundID,
			Voter:       voter,
			GrantID:     quadratic.Normalize(ev.GrantID.Hex()),
			Credits:     ev.Credits,
			Votes:       votesFloat(ev.Votes),
			BlockNumber: ev.BlockNumber,
			TxHash:      ev.TxHash.Hex(),
			LogIndex:    ev.LogIndex,
		})
		if !seen[voter] {
			seen[voter] = true
			voters = append(voters, voter)
		}
	}

	if err := c.checkVoters(ctx, voters, to); err != nil {
		return 0, err
	}
	if err := c.repo.SaveVotes(ctx, rows); err != nil {
		return 0, fmt.Errorf("save votes: %w", err)
	}
	return len(rows), nil
}

// checkVoters looks up voters that have no cached registration yet.
func (c *Collector) checkVoters(ctx context.Context, voters []string, block uint64) error {
	for _, voter := range voters {
		known, err := c.repo.KnownVoter(ctx, c.cfg.RoundID, voter)
		if err != nil {
			return fmt.Errorf("lookup voter: %w", err)
		}
		if known {
			continue
		}
		registered, err := c.registry.IsRegistered(ctx, voter, block)
		if err != nil {
			return err
		}
		if !registered {
			c.log.Warnw("vote from unregistered address", "round", c.cfg.RoundID, "voter", voter)
		}
		err = c.repo.UpsertVoter(ctx, models.Voter{
			RoundID:      c.cfg.RoundID,
			Address:      voter,
			Registered:   registered,
			CheckedBlock: block,
		})
		if err != nil {
			return fmt.Errorf("save voter: %w", err)
		}
	}
	return nil
}

func (c *Collector) collectFactory(ctx context.Context, from, to uint64) error {
	if c.cfg.FactoryAddress == "" {
		return nil
	}
	q := ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(c.cfg.FactoryAddress)},
		Topics:    [][]common.Hash{ledger.FactoryTopics()},
	}
	logs, err := ledger.FilterLogsChunked(ctx, c.backend, q, from, to)
	if err != nil {
		return err
	}
	for _, lg := range logs {
		ev, err := ledger.DecodeFactory(lg)
		if err != nil {
			c.log.Warnw("skipping factory log", "tx", lg.TxHash.Hex(), "error", err)
			continue
		}
		err = c.repo.SaveStrategy(ctx, models.Strategy{
			Address:     quadratic.Normalize(ev.Address.Hex()),
			Factory:     quadratic.Normalize(ev.Factory.Hex()),
			Event:       ev.Name,
			BlockNumber: ev.BlockNumber,
			TxHash:      ev.TxHash.Hex(),
			LogIndex:    ev.LogIndex,
		})
		if err != nil {
			return fmt.Errorf("save strategy event: %w", err)
		}
		c.log.Infow("factory event", "event", ev.Name, "address", ev.Address.Hex(), "block", ev.BlockNumber)
	}
	return nil
}

func votesFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func (c *Collector) Close() error {
	c.cleanupClient()
	return nil
}

// IsUnavailable reports whether err came from the ledger connection.
func IsUnavailable(err error) bool {
	var unavailable *ledger.LedgerUnavailableError
	return errors.As(err, &unavailable)
}
