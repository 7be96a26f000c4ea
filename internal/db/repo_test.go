package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"round-finalizer/internal/config"
	"round-finalizer/internal/db"
	"round-finalizer/internal/db/dbtest"
	"round-finalizer/internal/models"

	"github.com/stretchr/testify/require"
)

func TestOpenWithoutDatabaseURL(t *testing.T) {
	gormDB, err := db.Open(config.Config{})
	require.NoError(t, err)
	require.Nil(t, gormDB)
	require.NoError(t, db.AutoMigrate(nil))
}

func TestSaveVotesSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := dbtest.New(t)

	votes := []models.Vote{
		{RoundID: "r", Voter: "0xa", GrantID: "p1", Credits: 16, BlockNumber: 10, TxHash: "0x01", LogIndex: 0},
		{RoundID: "r", Voter: "0xb", GrantID: "p1", Credits: 4, BlockNumber: 12, TxHash: "0x02", LogIndex: 1},
	}
	require.NoError(t, repo.SaveVotes(ctx, votes))
	require.NoError(t, repo.SaveVotes(ctx, []models.Vote{
		{RoundID: "r", Voter: "0xa", GrantID: "p1", Credits: 16, BlockNumber: 10, TxHash: "0x01", LogIndex: 0},
		{RoundID: "r", Voter: "0xa", GrantID: "p2", Credits: 9, BlockNumber: 14, TxHash: "0x03", LogIndex: 0},
	}))

	all, err := repo.Votes(ctx, "r", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, uint64(14), all[2].BlockNumber)

	upTo12, err := repo.Votes(ctx, "r", 12)
	require.NoError(t, err)
	require.Len(t, upTo12, 2)
}

func TestVotersAndCursor(t *testing.T) {
	ctx := context.Background()
	repo := dbtest.New(t)

	require.NoError(t, repo.UpsertVoter(ctx, models.Voter{RoundID: "r", Address: "0xa", Registered: false, CheckedBlock: 1}))
	require.NoError(t, repo.UpsertVoter(ctx, models.Voter{RoundID: "r", Address: "0xa", Registered: true, CheckedBlock: 5}))
	voters, err := repo.Voters(ctx, "r")
	require.NoError(t, err)
	require.Len(t, voters, 1)
	require.True(t, voters[0].Registered)

	known, err := repo.KnownVoter(ctx, "r", "0xa")
	require.NoError(t, err)
	require.True(t, known)

	_, ok, err := repo.Cursor(ctx, "votes:r")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, repo.SetCursor(ctx, "votes:r", 40))
	require.NoError(t, repo.SetCursor(ctx, "votes:r", 41))
	block, ok, err := repo.Cursor(ctx, "votes:r")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(41), block)
}

func TestProjectsUpsert(t *testing.T) {
	ctx := context.Background()
	repo := dbtest.New(t)

	require.NoError(t, repo.UpsertProjects(ctx, []models.Project{
		{RoundID: "r", ProjectID: "p1", Name: "old", Status: "PENDING"},
		{RoundID: "r", ProjectID: "p2", Name: "two", Status: "APPROVED"},
	}))
	require.NoError(t, repo.UpsertProjects(ctx, []models.Project{
		{RoundID: "r", ProjectID: "p1", Name: "one", Status: "APPROVED", PayoutAddress: "0x01"},
	}))

	approved, err := repo.Projects(ctx, "r", "APPROVED")
	require.NoError(t, err)
	require.Len(t, approved, 2)
	require.Equal(t, "one", approved[0].Name)
	require.Equal(t, "0x01", approved[0].PayoutAddress)
}

func TestRoundGuardedUpdate(t *testing.T) {
	ctx := context.Background()
	repo := dbtest.New(t)

	_, err := repo.Round(ctx, "r")
	require.True(t, errors.Is(err, db.ErrNotFound))

	round, err := repo.EnsureRound(ctx, models.Round{RoundID: "r", State: "OPEN", EndTime: time.Unix(100, 0).UTC()})
	require.NoError(t, err)
	again, err := repo.EnsureRound(ctx, models.Round{RoundID: "r", State: "TALLYING"})
	require.NoError(t, err)
	require.Equal(t, "OPEN", again.State, "existing round is not overwritten")

	round.State = "TALLYING"
	require.NoError(t, repo.UpdateRound(ctx, &round, "OPEN"))
	require.True(t, errors.Is(repo.UpdateRound(ctx, &round, "OPEN"), db.ErrStateConflict))

	stored, err := repo.Round(ctx, "r")
	require.NoError(t, err)
	require.Equal(t, "TALLYING", stored.State)

	require.NoError(t, repo.SetRoundError(ctx, "r", "boom"))
	stored, err = repo.Round(ctx, "r")
	require.NoError(t, err)
	require.Equal(t, "boom", stored.LastError)
	require.Equal(t, "TALLYING", stored.State)
}

func TestBlobs(t *testing.T) {
	ctx := context.Background()
	repo := dbtest.New(t)

	require.NoError(t, repo.PutBlob(ctx, "ptr", []byte("hello")))
	require.NoError(t, repo.PutBlob(ctx, "ptr", []byte("hello")))
	data, err := repo.Blob(ctx, "ptr")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	_, err = repo.Blob(ctx, "missing")
	require.True(t, errors.Is(err, db.ErrNotFound))
}

func TestPayoutState(t *testing.T) {
	ctx := context.Background()
	repo := dbtest.New(t)

	_, err := repo.PayoutState(ctx, "r")
	require.True(t, errors.Is(err, db.ErrNotFound))

	require.NoError(t, repo.SavePayoutState(ctx, models.PayoutState{RoundID: "r", Root: "0x01", Pointer: "a", Updates: 1}))
	require.NoError(t, repo.SavePayoutState(ctx, models.PayoutState{RoundID: "r", Root: "0x02", Pointer: "b", Updates: 2, Ready: true}))

	s, err := repo.PayoutState(ctx, "r")
	require.NoError(t, err)
	require.Equal(t, "0x02", s.Root)
	require.Equal(t, "b", s.Pointer)
	require.Equal(t, 2, s.Updates)
	require.True(t, s.Ready)
}
