package config

import (
	"os"
	"strings"
)

// Env is a read-only snapshot of environment variables, captured once at
// startup and passed into components that would otherwise call os.Getenv.
// Tests build their own maps instead of mutating the process environment.
type Env map[string]string

// NewEnvFromOS snapshots the current process environment.
func NewEnvFromOS() Env {
	env := make(Env)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	return env
}

// Get returns the value for key, or the empty string if unset.
func (e Env) Get(key string) string {
	return e[key]
}

// GetDefault returns the value for key, or def if unset or empty.
func (e Env) GetDefault(key, def string) string {
	if v := e[key]; v != "" {
		return v
	}
	return def
}
