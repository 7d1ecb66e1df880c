package graph

import (
	"fmt"
	"strings"

	"github.com/pingcap/errors"
)

var (
	// ErrGraphCycle is the kind of every *CycleError.
	ErrGraphCycle = errors.New("dependency cycle")
	// ErrInvariantViolation marks an edge recorded on one side only.
	ErrInvariantViolation = errors.New("graph invariant violated")
	// ErrDuplicateTask is returned when a task id is added twice.
	ErrDuplicateTask = errors.New("duplicate task id")
	// ErrUnknownHandle is raised for handles that were never issued.
	ErrUnknownHandle = errors.New("unknown task handle")
	// ErrNoExpansion is returned when an expansion has nothing to expand to.
	ErrNoExpansion = errors.New("nothing to expand")
	// ErrAlreadyExpanded is returned when a superseded task is expanded again.
	ErrAlreadyExpanded = errors.New("task already expanded")
)

// CycleError reports that a sort pass stalled before every task was
// ranked.
type CycleError struct {
	// Unranked lists the ids left without a rank.
	Unranked []string
	// Detail describes one cycle among them, when one could be traced.
	Detail string
}

func (e *CycleError) Error() string {
	msg := fmt.Sprintf("%s: %d task(s) cannot be ordered: %s",
		ErrGraphCycle.Error(), len(e.Unranked), strings.Join(e.Unranked, ", "))
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *CycleError) Unwrap() error { return ErrGraphCycle }
