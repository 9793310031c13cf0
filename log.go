package bookstore

import (
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
)

// InitLogger replaces the global logger with one at the configured level,
// writing to file when set and to stderr otherwise.
func InitLogger(level, file string) error {
	if level == "" {
		level = "info"
	}
	cfg := &log.Config{
		Level:  level,
		Format: "text",
		File:   log.FileLogConfig{Filename: file},
	}
	logger, props, err := log.InitLogger(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	log.ReplaceGlobals(logger, props)
	return nil
}
