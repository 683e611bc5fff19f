package config_test

import (
	"testing"

	"github.com/MrWong99/voxident/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.Any() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.MatcherChanged || d.StitchingChanged || d.EnrollmentChanged || d.SharingChanged {
		t.Errorf("unexpected extra changes: %+v", d)
	}
}

func TestDiff_MatcherChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Matcher.HighScore = 0.6

	d := config.Diff(old, new)
	if !d.MatcherChanged {
		t.Error("expected MatcherChanged=true")
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false")
	}
}

func TestDiff_StitchingChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Stitching.MaxCount = 8

	d := config.Diff(old, new)
	if !d.StitchingChanged {
		t.Error("expected StitchingChanged=true")
	}
}

func TestDiff_EnrollmentChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Enrollment.EMAAlpha = 0.5

	d := config.Diff(old, new)
	if !d.EnrollmentChanged {
		t.Error("expected EnrollmentChanged=true")
	}
}

func TestDiff_SharingChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Sharing.AdminCode = "friends-only"

	d := config.Diff(old, new)
	if !d.SharingChanged {
		t.Error("expected SharingChanged=true")
	}
	if !d.Any() {
		t.Error("Any() should report true when a section changed")
	}
}
