// SPDX-License-Identifier: Apache-2.0

package change

import "github.com/noormdev/noorm/pkg/internaltables"

// Reason explains why the staleness test judged a change as needing to run
// (§4.1 Staleness test).
type Reason string

const (
	ReasonNew      Reason = "new"
	ReasonReverted Reason = "reverted"
	ReasonFailed   Reason = "failed"
	ReasonChanged  Reason = "changed"
	ReasonStale    Reason = "stale"
	ReasonForce    Reason = "force"
)

// Status is the derived status of a change (§3.3 Status of a change).
// It is never stored; every caller recomputes it from the change rows.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusReverted Status = "reverted"
)

// DeriveStatus computes a change's status from its history, most recent
// row first (as returned by internaltables.AllChangeRows).
func DeriveStatus(history []internaltables.ChangeRow) Status {
	if len(history) == 0 {
		return StatusPending
	}

	last := history[0]
	switch {
	case last.Direction == "revert" && last.Status == "success":
		return StatusReverted
	case last.Status == "failed":
		return StatusFailed
	case last.Direction == "apply" && last.Status == "success":
		return StatusSuccess
	default:
		return StatusPending
	}
}

// IsApplied reports whether a change is currently applied: its most recent
// row is a successful apply (§3.3 Change).
func IsApplied(history []internaltables.ChangeRow) bool {
	return len(history) > 0 && history[0].Direction == "apply" && history[0].Status == "success"
}

// needsRun implements the staleness test table (§4.1): given a change's
// prior history, its current combined checksum, a force override, and
// whether a later change (in canonical apply order) has already been
// applied, it reports whether the change needs to run and why.
func needsRun(history []internaltables.ChangeRow, currentChecksum string, force, laterApplied bool) (bool, Reason) {
	if force {
		return true, ReasonForce
	}
	if len(history) == 0 {
		return true, ReasonNew
	}

	last := history[0]
	switch {
	case last.Direction == "revert" && last.Status == "success":
		return true, ReasonReverted
	case last.Status == "failed":
		return true, ReasonFailed
	case last.Direction == "apply" && last.Status == "success":
		if last.Checksum != currentChecksum {
			return true, ReasonChanged
		}
		if laterApplied {
			return true, ReasonStale
		}
		return false, ""
	default:
		return true, ReasonNew
	}
}
