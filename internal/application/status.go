package application

import (
	"encoding/json"
	"strconv"
	"strings"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// ConvertStatus maps the on-chain status code; unknown codes are PENDING.
func ConvertStatus(code int) Status {
	switch code {
	case 1:
		return StatusApproved
	case 2:
		return StatusRejected
	case 3:
		return StatusCancelled
	default:
		return StatusPending
	}
}

// UnmarshalJSON accepts a status code, a quoted code or a status name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err == nil {
		*s = ConvertStatus(code)
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	if n, err := strconv.Atoi(text); err == nil {
		*s = ConvertStatus(n)
		return nil
	}
	switch v := Status(strings.ToUpper(text)); v {
	case StatusApproved, StatusRejected, StatusCancelled:
		*s = v
	default:
		*s = StatusPending
	}
	return nil
}
