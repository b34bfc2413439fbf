// Package nlog is VexFS's structured-logging facade, named and shaped after
// the teacher's own cmn/nlog (Infoln/Infof/Errorln/Warningf call sites
// throughout xact and ais). Under the hood it delegates to zerolog for
// level-gated, low-allocation structured output instead of the standard
// library's log package, which the teacher never calls directly.
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package nlog

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

func sprint(args ...any) string            { return fmt.Sprint(args...) }
func sprintf(format string, args ...any) string { return fmt.Sprintf(format, args...) }

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).With().Timestamp().Logger()

// SetLevel adjusts the global verbosity, e.g. for tests that want quiet logs.
func SetLevel(level zerolog.Level) { zerolog.SetGlobalLevel(level) }

func Infoln(args ...any)              { logger.Info().Msg(sprint(args...)) }
func Infof(format string, args ...any) { logger.Info().Msg(sprintf(format, args...)) }

func Warningln(args ...any)              { logger.Warn().Msg(sprint(args...)) }
func Warningf(format string, args ...any) { logger.Warn().Msg(sprintf(format, args...)) }

func Errorln(args ...any)              { logger.Error().Msg(sprint(args...)) }
func Errorf(format string, args ...any) { logger.Error().Msg(sprintf(format, args...)) }

// FastV reports whether verbosity level v is enabled for module smodule —
// mirrors the teacher's cmn.Rom.FastV(5, cos.SmoduleS3) gate so call sites
// can skip building expensive log arguments at disabled levels.
func FastV(v int, smodule string) bool {
	return v <= verbosityFor(smodule)
}

var moduleVerbosity = map[string]int{}

// SetVerbosity configures the verbosity threshold for a named module.
func SetVerbosity(smodule string, v int) { moduleVerbosity[smodule] = v }

func verbosityFor(smodule string) int {
	if v, ok := moduleVerbosity[smodule]; ok {
		return v
	}
	return 0
}
