package api

import (
	"context"
	"errors"
	"net/http"

	"round-finalizer/internal/db"
	"round-finalizer/internal/finalize"
	"round-finalizer/internal/payout"
	"round-finalizer/internal/quadratic"

	"github.com/labstack/echo/v4"
)

// Names of the checks reported with 422 responses.
const (
	CheckSchema        = "schema"
	CheckProjectIDs    = "project-ids"
	CheckPercentageSum = "percentage-sum"
	CheckVoterRegister = "voter-register"
	CheckCreditBudget  = "credit-budget"
	CheckVotes         = "votes"
)

var (
	ErrRoundIDRequired   = echo.NewHTTPError(http.StatusBadRequest, "round id is required")
	ErrProjectIDRequired = echo.NewHTTPError(http.StatusBadRequest, "project id is required")
)

// Failure is one failed check of a rejected request.
type Failure struct {
	Check   string   `json:"check"`
	Message string   `json:"message"`
	Missing []string `json:"missing,omitempty"`
	Sum     *float64 `json:"sum,omitempty"`
	Entry   *int     `json:"entry,omitempty"`
	Field   string   `json:"field,omitempty"`
}

type errorResponse struct {
	Message  string    `json:"message"`
	State    string    `json:"state,omitempty"`
	Failures []Failure `json:"failures,omitempty"`
}

// failures lists every validation failure carried by err.
func failures(err error) []Failure {
	var out []Failure
	var walk func(error)
	walk = func(err error) {
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				walk(e)
			}
			return
		}
		var (
			parseErr    *quadratic.ParseError
			mismatchErr *quadratic.ProjectIDMismatchError
			sumErr      *quadratic.PercentageSumError
			authErr     *quadratic.AuthorizationError
			budgetErr   *quadratic.BudgetExceededError
		)
		switch {
		case errors.As(err, &parseErr):
			f := Failure{Check: CheckSchema, Message: parseErr.Error(), Field: parseErr.Field}
			if parseErr.Index >= 0 {
				idx := parseErr.Index
				f.Entry = &idx
			}
			out = append(out, f)
		case errors.As(err, &mismatchErr):
			out = append(out, Failure{Check: CheckProjectIDs, Message: mismatchErr.Error(), Missing: mismatchErr.Missing})
		case errors.As(err, &sumErr):
			sum := sumErr.Sum
			out = append(out, Failure{Check: CheckPercentageSum, Message: sumErr.Error(), Sum: &sum})
		case errors.As(err, &authErr):
			out = append(out, Failure{Check: CheckVoterRegister, Message: authErr.Error()})
		case errors.As(err, &budgetErr):
			out = append(out, Failure{Check: CheckCreditBudget, Message: budgetErr.Error()})
		case errors.Is(err, quadratic.ErrNoVotes):
			out = append(out, Failure{Check: CheckVotes, Message: err.Error()})
		}
	}
	walk(err)
	return out
}

// statusOf maps a finalization error to an HTTP status.
func statusOf(err error) int {
	var (
		transitionErr *finalize.TransitionError
		reviewErr     *finalize.ReviewError
	)
	switch {
	case errors.As(err, &reviewErr):
		return http.StatusBadGateway
	case finalize.Transient(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &transitionErr),
		errors.Is(err, finalize.ErrRoundStillOpen),
		errors.Is(err, finalize.ErrNoProposal),
		errors.Is(err, db.ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, db.ErrNotFound), errors.Is(err, payout.ErrUnknownProject):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case len(failures(err)) > 0:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		s.e.DefaultHTTPErrorHandler(err, c)
		return
	}

	code := statusOf(err)
	resp := errorResponse{Message: err.Error()}
	switch code {
	case http.StatusUnprocessableEntity:
		resp.Failures = failures(err)
	case http.StatusBadGateway:
		resp.State = string(finalize.StateErrorReview)
	case http.StatusInternalServerError:
		s.log.Errorw("request failed", "path", c.Path(), "round", c.Param("id"), "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		s.log.Warnw("write error response", "error", err)
	}
}
