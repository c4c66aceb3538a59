package capability

import (
	"strings"
	"testing"

	"focusgate/internal/task"
)

func TestDowngrade(t *testing.T) {
	t.Parallel()
	full := Set{CanBlockApps: true, CanShowOverlay: true, CanTrackUsage: true, CanRunInBackground: true}

	tests := []struct {
		name      string
		requested task.Strictness
		caps      Set
		level     task.Strictness
		warnings  int
	}{
		{name: "hard fully granted", requested: task.LevelHard, caps: full, level: task.LevelHard},
		{name: "medium fully granted", requested: task.LevelMedium, caps: full, level: task.LevelMedium},
		{name: "soft fully granted", requested: task.LevelSoft, caps: full, level: task.LevelSoft},
		{
			name:      "hard without overlay",
			requested: task.LevelHard,
			caps:      Set{CanBlockApps: true, CanTrackUsage: true, CanRunInBackground: true},
			level:     task.LevelMedium,
			warnings:  1,
		},
		{
			name:      "hard without blocking falls to soft",
			requested: task.LevelHard,
			caps:      Set{CanTrackUsage: true, CanRunInBackground: true},
			level:     task.LevelSoft,
			warnings:  2,
		},
		{
			name:      "nothing granted falls to timer only",
			requested: task.LevelHard,
			caps:      Set{},
			level:     task.LevelTimerOnly,
			warnings:  3,
		},
		{
			name:      "soft without usage tracking",
			requested: task.LevelSoft,
			caps:      Set{CanBlockApps: true, CanRunInBackground: true},
			level:     task.LevelTimerOnly,
			warnings:  1,
		},
		{
			name:      "medium without background",
			requested: task.LevelMedium,
			caps:      Set{CanBlockApps: true, CanTrackUsage: true},
			level:     task.LevelSoft,
			warnings:  1,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Downgrade(tt.requested, tt.caps)
			if got.Level != tt.level {
				t.Fatalf("Level = %s, want %s", got.Level, tt.level)
			}
			if len(got.Warnings) != tt.warnings {
				t.Fatalf("Warnings = %v, want %d entries", got.Warnings, tt.warnings)
			}
			if got.Downgraded() != (tt.warnings > 0) {
				t.Fatalf("Downgraded() = %v", got.Downgraded())
			}
		})
	}
}

func TestDowngradeWarningNamesMissingCapability(t *testing.T) {
	t.Parallel()
	res := Downgrade(task.LevelHard, Set{CanBlockApps: true, CanRunInBackground: true, CanTrackUsage: true})
	if len(res.Warnings) != 1 {
		t.Fatalf("Warnings = %v", res.Warnings)
	}
	if !strings.Contains(res.Warnings[0], "overlay") {
		t.Fatalf("warning %q does not name the missing capability", res.Warnings[0])
	}
}
