// Package capability implements strictness negotiation against the
// permissions a device actually grants.
//
// The engine never assumes a requested strictness took effect: the device
// reports its capability set, Downgrade computes the level that set can
// sustain, and the result is recorded on the session. Downgrades surface as
// warnings to the user-facing layer, never as errors.
package capability

import (
	"fmt"
	"strings"

	"focusgate/internal/task"
)

// Set is the capability report from the on-device collaborator.
type Set struct {
	CanBlockApps       bool `json:"canBlockApps"`
	CanShowOverlay     bool `json:"canShowOverlay"`
	CanTrackUsage      bool `json:"canTrackUsage"`
	CanRunInBackground bool `json:"canRunInBackground"`
}

// Result is the negotiated outcome.
type Result struct {
	Level    task.Strictness `json:"level"`
	Warnings []string        `json:"warnings"`
}

// Downgraded reports whether the negotiated level is below the request.
func (r Result) Downgraded() bool { return len(r.Warnings) > 0 }

// Downgrade maps a requested strictness and a capability set to the level
// the device can actually enforce, walking hard -> medium -> soft ->
// timer-only and collecting a warning for each step down.
//
// Level requirements:
//   - hard: block apps + overlay + background execution
//   - medium: block apps + background execution
//   - soft: usage tracking
//   - timer_only: nothing (always achievable)
func Downgrade(requested task.Strictness, caps Set) Result {
	res := Result{Level: requested}

	if res.Level == task.LevelHard && !(caps.CanBlockApps && caps.CanShowOverlay && caps.CanRunInBackground) {
		res.Warnings = append(res.Warnings, downgradeWarning(task.LevelHard, task.LevelMedium, missingForHard(caps)))
		res.Level = task.LevelMedium
	}
	if res.Level == task.LevelMedium && !(caps.CanBlockApps && caps.CanRunInBackground) {
		res.Warnings = append(res.Warnings, downgradeWarning(task.LevelMedium, task.LevelSoft, missingForMedium(caps)))
		res.Level = task.LevelSoft
	}
	if res.Level == task.LevelSoft && !caps.CanTrackUsage {
		res.Warnings = append(res.Warnings, downgradeWarning(task.LevelSoft, task.LevelTimerOnly, "usage tracking"))
		res.Level = task.LevelTimerOnly
	}
	return res
}

func downgradeWarning(from, to task.Strictness, missing string) string {
	return fmt.Sprintf("downgraded %s to %s: missing %s", from, to, missing)
}

func missingForHard(caps Set) string {
	var missing []string
	if !caps.CanBlockApps {
		missing = append(missing, "app blocking")
	}
	if !caps.CanShowOverlay {
		missing = append(missing, "overlay")
	}
	if !caps.CanRunInBackground {
		missing = append(missing, "background execution")
	}
	return strings.Join(missing, ", ")
}

func missingForMedium(caps Set) string {
	var missing []string
	if !caps.CanBlockApps {
		missing = append(missing, "app blocking")
	}
	if !caps.CanRunInBackground {
		missing = append(missing, "background execution")
	}
	return strings.Join(missing, ", ")
}
