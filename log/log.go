package log

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func NewLogger(module string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("%-45s", fmt.Sprintf("[%s] %s", module, i))
	}

	return log.Output(output)
}

// SetGlobalLevel maps the cli log-level flag onto zerolog's levels
// (-1 = trace, 5 = panic).
func SetGlobalLevel(level int) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}
