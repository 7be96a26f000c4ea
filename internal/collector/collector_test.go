package collector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"round-finalizer/internal/config"
	"round-finalizer/internal/db"
	"round-finalizer/internal/db/dbtest"
	"round-finalizer/internal/ledger"
	"round-finalizer/internal/ledger/ledgertest"
	"round-finalizer/internal/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	strategy = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	factory  = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	register = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	alice    = common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000002")
	grantA   = common.HexToHash("0x0a")
	grantB   = common.HexToHash("0x0b")
)

func testConfig() config.Config {
	return config.Config{
		RoundID:              "r1",
		StrategyAddress:      strategy.Hex(),
		FactoryAddress:       factory.Hex(),
		VoterRegisterAddress: register.Hex(),
		StartBlock:           1,
		PollInterval:         10 * time.Millisecond,
	}
}

func newCollector(t *testing.T, b *ledgertest.Backend) (*Collector, *db.Repository) {
	t.Helper()
	repo := dbtest.New(t)
	dial := func(context.Context) (ledger.Backend, func(), error) {
		return b, func() {}, nil
	}
	c := NewCollector(testConfig(), repo, dial, logger.Nop())
	c.retryInterval = 5 * time.Millisecond
	return c, repo
}

func seed(b *ledgertest.Backend) {
	b.SetBalance(alice, 1)
	b.AddLogs(
		ledgertest.VotedLog(strategy, alice, grantA, 16, 10, 0),
		ledgertest.VotedLog(strategy, bob, grantA, 4, 11, 0),
		ledgertest.VotedLog(strategy, alice, grantB, 9, 11, 1),
		ledgertest.VotedLog(common.HexToAddress("0x01"), alice, grantB, 50, 11, 2),
		ledgertest.CreatedLog(factory, strategy, alice, 2, 0),
	)
}

func TestPollStoresVotesAndVoters(t *testing.T) {
	ctx := context.Background()
	b := ledgertest.NewBackend()
	seed(b)
	c, repo := newCollector(t, b)

	n, err := c.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n, "logs of other contracts are ignored")

	votes, err := repo.Votes(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, votes, 3)
	require.Equal(t, "0xabcdef0000000000000000000000000000000001", votes[0].Voter)
	require.Equal(t, grantA.Hex(), votes[0].GrantID)
	require.Equal(t, uint64(16), votes[0].Credits)
	require.Equal(t, 4.0, votes[0].Votes)

	voters, err := repo.Voters(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, voters, 2)
	registered := map[string]bool{}
	for _, v := range voters {
		registered[v.Address] = v.Registered
	}
	require.True(t, registered["0xabcdef0000000000000000000000000000000001"])
	require.False(t, registered["0x0000000000000000000000000000000000000002"])

	strategies, err := repo.Strategies(ctx)
	require.NoError(t, err)
	require.Len(t, strategies, 1)
	require.Equal(t, ledger.EventQVCreated, strategies[0].Event)

	cursor, ok, err := repo.Cursor(ctx, c.cursorName())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(11), cursor)
}

func TestPollResumesFromCursor(t *testing.T) {
	ctx := context.Background()
	b := ledgertest.NewBackend()
	seed(b)
	c, repo := newCollector(t, b)

	_, err := c.Poll(ctx)
	require.NoError(t, err)
	queries := b.Queries()

	n, err := c.Poll(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, queries, b.Queries(), "nothing new to read")

	b.AddLogs(ledgertest.VotedLog(strategy, bob, grantB, 1, 20, 0))
	n, err = c.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, repo.SetCursor(ctx, c.cursorName(), 0))
	_, err = c.Poll(ctx)
	require.NoError(t, err)
	votes, err := repo.Votes(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, votes, 4, "re-read logs are not stored twice")
}

func TestPollLedgerUnavailable(t *testing.T) {
	b := ledgertest.NewBackend()
	seed(b)
	c, _ := newCollector(t, b)
	b.Fail(1)

	_, err := c.Poll(context.Background())
	require.True(t, IsUnavailable(err))
	require.ErrorIs(t, err, ledgertest.ErrDown)
}

func TestPollWithoutVoterRegister(t *testing.T) {
	ctx := context.Background()
	b := ledgertest.NewBackend()
	seed(b)
	repo := dbtest.New(t)
	cfg := testConfig()
	cfg.VoterRegisterAddress = ""
	c := NewCollector(cfg, repo, func(context.Context) (ledger.Backend, func(), error) {
		return b, func() {}, nil
	}, logger.Nop())

	_, err := c.Poll(ctx)
	require.NoError(t, err)
	voters, err := repo.Voters(ctx, "r1")
	require.NoError(t, err)
	for _, v := range voters {
		require.True(t, v.Registered, v.Address)
	}
}

func TestRunReconnectsAndStops(t *testing.T) {
	b := ledgertest.NewBackend()
	seed(b)
	repo := dbtest.New(t)
	var dials atomic.Int32
	dial := func(context.Context) (ledger.Backend, func(), error) {
		if dials.Add(1) == 1 {
			return nil, nil, errors.New("dial tcp: connection refused")
		}
		return b, func() {}, nil
	}
	c := NewCollector(testConfig(), repo, dial, logger.Nop())
	c.retryInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		votes, err := repo.Votes(context.Background(), "r1", 0)
		return err == nil && len(votes) == 3
	}, 5*time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, dials.Load(), int32(2))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop")
	}
}
