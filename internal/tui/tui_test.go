package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"round-finalizer/internal/finalize"
	"round-finalizer/internal/logger"
	"round-finalizer/internal/models"
	"round-finalizer/internal/progress"
	"round-finalizer/internal/quadratic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func sized(t *testing.T, width, height int) Model {
	t.Helper()
	next, _ := NewModel().Update(tea.WindowSizeMsg{Width: width, Height: height})
	return next.(Model)
}

func apply(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func entries(n int) []EntryInfo {
	out := make([]EntryInfo, n)
	for i := range out {
		out[i] = EntryInfo{
			ProjectID:    "p" + string(rune('a'+i)),
			Name:         "Project " + string(rune('A'+i)),
			Contributors: i + 1,
			Percentage:   1 / float64(n),
			Amount:       "10.00",
		}
	}
	return out
}

func TestViewBeforeResize(t *testing.T) {
	require.Equal(t, "Loading...", NewModel().View())
	require.Equal(t, "Window too small", sized(t, 20, 10).View())
}

func TestViewShowsRoundAndDistribution(t *testing.T) {
	m := sized(t, 120, 30)
	m = apply(t, m,
		RoundMsg{Round: RoundInfo{RoundID: "round-1", State: "DISTRIBUTION_PROPOSED", MatchingPool: "1000", Token: "DAI", SnapshotBlock: 42}},
		DistributionMsg{Entries: []EntryInfo{
			{ProjectID: "p1", Name: "Clean Water", Contributors: 2, Percentage: 0.8, Amount: "800.00"},
			{ProjectID: "p2", Name: "Open Maps", Contributors: 1, Percentage: 0.2, Amount: "200.00"},
		}},
	)

	view := m.View()
	require.Contains(t, view, "round: round-1")
	require.Contains(t, view, "DISTRIBUTION_PROPOSED")
	require.Contains(t, view, "pool: 1000 DAI")
	require.Contains(t, view, "snapshot block: 42")
	require.Contains(t, view, "Clean Water")
	require.Contains(t, view, "80.00%")
	require.Contains(t, view, "800.00")
	require.Contains(t, view, "no operation running")

	for _, line := range strings.Split(view, "\n") {
		if strings.Contains(line, "Clean Water") || strings.Contains(line, "Open Maps") {
			require.Equal(t, 120, runewidth.StringWidth(line), line)
		}
	}
}

func TestViewShowsProgressAndLastError(t *testing.T) {
	m := sized(t, 100, 30)
	m = apply(t, m,
		RoundMsg{Round: RoundInfo{RoundID: "round-1", State: "DISTRIBUTION_PROPOSED", LastError: "ledger down"}},
		ProgressMsg{Operation: "finalize", Steps: []progress.Step{
			{Name: "store", Description: "Storing distribution", Status: progress.IsSuccess, Attempts: 1},
			{Name: "ledger", Description: "Updating distribution", Status: progress.IsError, Attempts: 3, Err: "timeout"},
		}},
	)
	view := m.View()
	require.Contains(t, view, "operation: finalize")
	require.Contains(t, view, "✅ Storing distribution")
	require.Contains(t, view, "❌ Updating distribution (attempt 3): timeout")
	require.Contains(t, view, "last error: ledger down")
}

func TestScrollKeys(t *testing.T) {
	m := sized(t, 80, 16)
	m = apply(t, m, DistributionMsg{Entries: entries(10)})
	rows := m.tableRows()
	require.Less(t, rows, 10)

	for i := 0; i < 20; i++ {
		m = apply(t, m, tea.KeyMsg{Type: tea.KeyDown})
	}
	require.Equal(t, 10-rows, m.offset)

	m = apply(t, m, tea.KeyMsg{Type: tea.KeyUp})
	require.Equal(t, 10-rows-1, m.offset)

	m = apply(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("g")})
	require.Equal(t, 0, m.offset)
	require.Contains(t, m.View(), "Project A")
}

func TestQuitKey(t *testing.T) {
	_, cmd := NewModel().Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestTruncateKeepsDisplayWidth(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 5))
	require.Equal(t, "ab...", truncate("abcdefgh", 5))
	require.Equal(t, 6, runewidth.StringWidth(fit("日本語のテキスト", 6)))
	require.Equal(t, "", truncate("abc", 0))
}

type fakeSource struct {
	mu    sync.Mutex
	round models.Round
	dist  *quadratic.Distribution
	op    string
	steps []progress.Step
}

func (s *fakeSource) Round(context.Context, string) (models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round, nil
}

func (s *fakeSource) Distribution(context.Context, string) (quadratic.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dist == nil {
		return quadratic.Distribution{}, finalize.ErrNoProposal
	}
	return *s.dist, nil
}

func (s *fakeSource) Progress(string) (string, []progress.Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.op, s.steps
}

func TestPollSendsRoundDistributionAndProgress(t *testing.T) {
	src := &fakeSource{
		round: models.Round{RoundID: "round-1", State: "DISTRIBUTION_PROPOSED", MatchingPool: "1000"},
		dist: &quadratic.Distribution{Entries: []quadratic.MatchingStatsEntry{
			{ProjectID: "p1", ProjectName: "Clean Water", MatchPoolPercentage: 1, MatchAmountInToken: decimal.NewFromInt(1000)},
		}},
		op:    finalize.OpPropose,
		steps: []progress.Step{{Name: "tally", Status: progress.IsSuccess}},
	}
	out := make(chan interface{}, UpdateBufferSize)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Poll(ctx, src, "round-1", time.Hour, out, logger.Nop())
		close(done)
	}()

	round := (<-out).(RoundInfo)
	require.Equal(t, "DISTRIBUTION_PROPOSED", round.State)
	rows := (<-out).([]EntryInfo)
	require.Len(t, rows, 1)
	require.Equal(t, "1000.00", rows[0].Amount)
	prog := (<-out).(ProgressMsg)
	require.Equal(t, finalize.OpPropose, prog.Operation)

	cancel()
	<-done
}

func TestPollWithoutProposal(t *testing.T) {
	src := &fakeSource{round: models.Round{RoundID: "round-1", State: "OPEN"}}
	out := make(chan interface{}, UpdateBufferSize)
	pollOnce(context.Background(), src, "round-1", out, logger.Nop())
	require.Len(t, out, 1)
	require.IsType(t, RoundInfo{}, <-out)
}

func TestObserverForwardsSteps(t *testing.T) {
	out := make(chan interface{}, UpdateBufferSize)
	observe := Observer("round-1", out)

	other := progress.NewTracker("finalize", progress.Step{Name: "store"})
	observe("round-2", other)
	require.NoError(t, other.Start("store"))
	other.Close()

	tr := progress.NewTracker("finalize", progress.Step{Name: "store"})
	observe("round-1", tr)
	require.NoError(t, tr.Start("store"))
	require.NoError(t, tr.Fail("store", errors.New("disk full")))
	tr.Close()

	var last ProgressMsg
	require.Eventually(t, func() bool {
		for {
			select {
			case v := <-out:
				last = v.(ProgressMsg)
			default:
				return last.Steps != nil && last.Steps[0].Status == progress.IsError
			}
		}
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "finalize", last.Operation)
	require.Equal(t, "disk full", last.Steps[0].Err)
}
