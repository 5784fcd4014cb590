package config

import (
	"io"
	"log"
	"os"
)

// LogWriter is the writer used for application and database logs.
var LogWriter io.Writer = os.Stdout

// LogFile is the resolved log file path, set by InitLogging. Empty when file
// logging is disabled because no writable log directory could be created.
var LogFile string

// InitLogging resolves the log file path, opens it for appending and
// configures the standard logger output. When no writable log directory can
// be materialized the service keeps running with stdout-only logging.
func InitLogging(env Env) (*os.File, io.Writer) {
	logPath, err := ResolveLogPath(env, HostPolicy())
	if err != nil {
		log.Printf("Warning: no writable log directory, logging to stdout only: %v", err)
		LogWriter = os.Stdout
		log.SetOutput(LogWriter)
		return nil, LogWriter
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("Warning: Failed to open log file: %v", err)
		LogWriter = os.Stdout
		log.SetOutput(LogWriter)
		return nil, LogWriter
	}

	LogFile = logPath
	LogWriter = io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(LogWriter)
	return logFile, LogWriter
}
