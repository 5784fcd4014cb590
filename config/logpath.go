package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	logPathEnvVar  = "PESAPAL_LOG_PATH"
	logDirName     = "pesapal_logs"
	logFileName    = "pesapal.log"
	fallbackLogDir = "/tmp"
)

// HostPathPolicy captures the path conventions that differ between
// POSIX-like and Windows-like deployment targets.
type HostPathPolicy interface {
	// DefaultLogDir returns the directory the default log tree is placed
	// under when no explicit override is set.
	DefaultLogDir(env Env) string
}

// PosixPathPolicy places default logs under /tmp, which is writable on
// Render and most container images.
type PosixPathPolicy struct{}

func (PosixPathPolicy) DefaultLogDir(Env) string { return fallbackLogDir }

// WindowsPathPolicy honors the TEMP directory override, falling back to the
// process working directory when TEMP is unset.
type WindowsPathPolicy struct{}

func (WindowsPathPolicy) DefaultLogDir(env Env) string {
	if dir := env.Get("TEMP"); dir != "" {
		return dir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// HostPolicy selects the path policy for the running OS. Called once at
// startup; tests inject a policy directly.
func HostPolicy() HostPathPolicy {
	if runtime.GOOS == "windows" {
		return WindowsPathPolicy{}
	}
	return PosixPathPolicy{}
}

// ResolveLogPath returns the path the Pesapal integration log file should be
// opened at, guaranteeing its parent directory exists on success.
//
// PESAPAL_LOG_PATH pins the full file path explicitly; otherwise the default
// is <policy default dir>/pesapal_logs/pesapal.log. If the parent directory
// cannot be created and the path is not already rooted under /tmp, the fixed
// fallback /tmp/pesapal_logs/pesapal.log is tried once. A failing path
// already under /tmp is not retried; the error is returned and the caller
// must not open a log file.
func ResolveLogPath(env Env, policy HostPathPolicy) (string, error) {
	logPath := env.Get(logPathEnvVar)
	if logPath == "" {
		logPath = filepath.Join(policy.DefaultLogDir(env), logDirName, logFileName)
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		if strings.HasPrefix(logPath, fallbackLogDir) {
			return "", fmt.Errorf("create log directory %s: %w", filepath.Dir(logPath), err)
		}

		logPath = filepath.Join(fallbackLogDir, logDirName, logFileName)
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return "", fmt.Errorf("create fallback log directory %s: %w", filepath.Dir(logPath), err)
		}
	}

	return logPath, nil
}
