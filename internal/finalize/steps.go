package finalize

import (
	"round-finalizer/internal/payout"
	"round-finalizer/internal/progress"

	"github.com/cometbft/cometbft/crypto/merkle"
)

// Operation names reported through progress trackers.
const (
	OpPreview       = "preview"
	OpPropose       = "propose"
	OpProposeCustom = "propose-custom"
	OpFinalize      = "finalize"
	OpReady         = "ready-for-payout"
)

const (
	StepParse         = "parse"
	StepSnapshot      = "snapshot"
	StepTally         = "tally"
	StepValidate      = "validate"
	StepCommit        = "commit"
	StepStore         = "store"
	StepMerkle        = "merkle"
	StepLedger        = "ledger"
	StepVerifyStorage = "verify-storage"
	StepVerifyLedger  = "verify-ledger"
	StepMarkReady     = "mark-ready"
)

var stepDescriptions = map[string]string{
	StepParse:         "Parsing uploaded distribution",
	StepSnapshot:      "Reading votes from the ledger",
	StepTally:         "Computing quadratic tally",
	StepValidate:      "Validating distribution",
	StepCommit:        "Saving round state",
	StepStore:         "Storing distribution",
	StepMerkle:        "Building payout merkle tree",
	StepLedger:        "Updating distribution on the payout strategy",
	StepVerifyStorage: "Checking stored distribution",
	StepVerifyLedger:  "Checking distribution on the ledger",
	StepMarkReady:     "Marking payout strategy ready",
}

func steps(names ...string) []progress.Step {
	out := make([]progress.Step, len(names))
	for i, n := range names {
		out[i] = progress.Step{Name: n, Description: stepDescriptions[n]}
	}
	return out
}

// Claim is a project's leaf in a finalized distribution with its proof.
type Claim struct {
	Root  string        `json:"root"`
	Leaf  payout.Leaf   `json:"leaf"`
	Proof *merkle.Proof `json:"proof"`
}

// unavailableError marks a read failure of an outside service.
type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string { return e.err.Error() }

func (e *unavailableError) Unwrap() error { return e.err }
