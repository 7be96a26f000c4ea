package api

import (
	"net/http"
	"strconv"
	"time"

	"round-finalizer/internal/models"
	"round-finalizer/internal/progress"

	"github.com/labstack/echo/v4"
)

type stateResponse struct {
	RoundID             string          `json:"roundId"`
	State               string          `json:"state"`
	EndTime             time.Time       `json:"endTime"`
	MatchingPool        string          `json:"matchingPool"`
	Token               string          `json:"token,omitempty"`
	SnapshotBlock       uint64          `json:"snapshotBlock,omitempty"`
	Custom              bool            `json:"custom"`
	DistributionPointer string          `json:"distributionPointer,omitempty"`
	MerkleRoot          string          `json:"merkleRoot,omitempty"`
	LastError           string          `json:"lastError,omitempty"`
	ProposedAt          *time.Time      `json:"proposedAt,omitempty"`
	FinalizedAt         *time.Time      `json:"finalizedAt,omitempty"`
	ReadyAt             *time.Time      `json:"readyAt,omitempty"`
	Operation           string          `json:"operation,omitempty"`
	Steps               []progress.Step `json:"steps,omitempty"`
}

func roundID(c echo.Context) (string, error) {
	id := c.Param("id")
	if id == "" {
		return "", ErrRoundIDRequired
	}
	return id, nil
}

func (s *Server) stateOf(round models.Round) stateResponse {
	op, steps := s.machine.Progress(round.RoundID)
	return stateResponse{
		RoundID:             round.RoundID,
		State:               round.State,
		EndTime:             round.EndTime,
		MatchingPool:        round.MatchingPool,
		Token:               round.Token,
		SnapshotBlock:       round.SnapshotBlock,
		Custom:              round.ProposalCustom,
		DistributionPointer: round.DistributionPointer,
		MerkleRoot:          round.MerkleRoot,
		LastError:           round.LastError,
		ProposedAt:          round.ProposedAt,
		FinalizedAt:         round.FinalizedAt,
		ReadyAt:             round.ReadyAt,
		Operation:           op,
		Steps:               steps,
	}
}

// respondState writes the stored round after an operation.
func (s *Server) respondState(c echo.Context, id string, code int) error {
	round, err := s.machine.Round(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(code, s.stateOf(round))
}

func (s *Server) getState(c echo.Context) error {
	id, err := roundID(c)
	if err != nil {
		return err
	}
	return s.respondState(c, id, http.StatusOK)
}

// getDistribution returns the active distribution, or with ?preview=true
// the distribution computed from the current votes.
func (s *Server) getDistribution(c echo.Context) error {
	id, err := roundID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if preview, _ := strconv.ParseBool(c.QueryParam("preview")); preview {
		dist, err := s.machine.Preview(ctx, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, dist)
	}
	dist, err := s.machine.Distribution(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dist)
}

func (s *Server) postTally(c echo.Context) error {
	id, err := roundID(c)
	if err != nil {
		return err
	}
	if _, err := s.machine.BeginTally(c.Request().Context(), id, s.now()); err != nil {
		return err
	}
	return s.respondState(c, id, http.StatusOK)
}

func (s *Server) postPropose(c echo.Context) error {
	id, err := roundID(c)
	if err != nil {
		return err
	}
	dist, err := s.machine.ProposeDefault(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dist)
}

// postDistribution takes the uploaded matching distribution as the body.
func (s *Server) postDistribution(c echo.Context) error {
	id, err := roundID(c)
	if err != nil {
		return err
	}
	dist, err := s.machine.ProposeCustom(c.Request().Context(), id, c.Request().Body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dist)
}

func (s *Server) postFinalize(c echo.Context) error {
	id, err := roundID(c)
	if err != nil {
		return err
	}
	if _, err := s.machine.Finalize(c.Request().Context(), id); err != nil {
		return err
	}
	return s.respondState(c, id, http.StatusOK)
}

func (s *Server) postReadyForPayout(c echo.Context) error {
	id, err := roundID(c)
	if err != nil {
		return err
	}
	if _, err := s.machine.MarkReadyForPayout(c.Request().Context(), id); err != nil {
		return err
	}
	return s.respondState(c, id, http.StatusOK)
}

func (s *Server) getProof(c echo.Context) error {
	id, err := roundID(c)
	if err != nil {
		return err
	}
	project := c.Param("project")
	if project == "" {
		return ErrProjectIDRequired
	}
	claim, err := s.machine.Proof(c.Request().Context(), id, project)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, claim)
}
