// Package logging provides the process-wide logger singleton. Configured once at
// startup (see cmd/defguard-core), never a module-level mutable that callers
// reconfigure; every other package calls logging.Logger() to obtain it.
package logging

import (
	"github.com/Gurpartap/logrus-stack"
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

// Logger returns the process-wide structured logger.
func Logger() *logrus.Logger {
	return logger
}

// Configure sets the logger's level and format, and attaches stack-frame hooks for
// Error level and above so panics/unexpected errors carry a caller trace, matching
// the teacher's logging setup.
func Configure(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	logger.SetLevel(lvl)

	switch format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logger.AddHook(logrus_stack.StandardHook())

	return nil
}

// HashUsername produces a short, non-reversible identifier for a username suitable
// for logging (spec §7: "logged with username hash only"). It is intentionally not
// cryptographically strong — it only needs to avoid writing raw usernames to logs
// while still letting an operator correlate repeated entries for the same account.
func HashUsername(username string) string {
	var h uint32 = 2166136261

	for i := 0; i < len(username); i++ {
		h ^= uint32(username[i])
		h *= 16777619
	}

	const hex = "0123456789abcdef"

	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[7-i] = hex[(h>>(i*4))&0xf]
	}

	return string(buf)
}
