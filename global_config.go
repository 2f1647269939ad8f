package multiadc

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Date    string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.1.0",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// StartTime is a global holding the time init() was run
var StartTime time.Time

// ProblemLogger will log warning messages to a file
var ProblemLogger zerolog.Logger

// UpdateLogger will log routine state changes
var UpdateLogger zerolog.Logger

func init() {
	StartTime = time.Now()

	// The main program will override these, but at least initialize with sensible values
	ProblemLogger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.WarnLevel)
	UpdateLogger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}
