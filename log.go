package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"

	"github.com/porua/porua/internal/settings"
)

func getLogFilePath() (string, error) {
	dir, err := gap.NewScope(gap.User, settings.AppName).CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, settings.AppName+".log"), nil
}

// setupLog sends log output to a file in the user cache dir. Commands that
// run in the foreground switch it to stderr.
func setupLog() (func() error, error) {
	log.SetOutput(io.Discard)

	logFile, err := getLogFilePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		// log disabled
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		// log disabled
		return func() error { return nil }, nil
	}
	log.SetOutput(f)
	log.SetReportTimestamp(true)
	return f.Close, nil
}
