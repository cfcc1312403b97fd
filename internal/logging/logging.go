/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process. Extra writers receive the raw
// JSON stream alongside the console output.
func Setup(environment string, extras ...io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if environment == "development" {
		level = zerolog.DebugLevel
	}

	writers := make([]io.Writer, 0, len(extras)+1)
	writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout})
	writers = append(writers, extras...)

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}
