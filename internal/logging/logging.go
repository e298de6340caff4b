package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a JSON logger tagged with the service name. In dev (pretty=true)
// output goes through zerolog's console writer. Unknown levels fall back to
// info.
func New(service, level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout)
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	return logger.Level(lvl).With().Timestamp().Str("service", service).Logger()
}
