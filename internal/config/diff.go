package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider
// selection and server settings require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MatcherChanged is true when any competitive-matching threshold
	// changed.
	MatcherChanged bool

	// StitchingChanged is true when any segment-selection tunable changed.
	StitchingChanged bool

	// EnrollmentChanged is true when any voiceprint-update tunable changed.
	EnrollmentChanged bool

	// SharingChanged is true when the Slack webhook or admin code changed.
	SharingChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.MatcherChanged || d.StitchingChanged ||
		d.EnrollmentChanged || d.SharingChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Matcher != new.Matcher {
		d.MatcherChanged = true
	}
	if old.Stitching != new.Stitching {
		d.StitchingChanged = true
	}
	if old.Enrollment != new.Enrollment {
		d.EnrollmentChanged = true
	}
	if old.Sharing != new.Sharing {
		d.SharingChanged = true
	}

	return d
}
