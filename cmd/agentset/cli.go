// Package main is the entry point for the agentset HTTP service.
package main

// CLI defines the kong command-line flags for the agentset binary, the same
// flag/command separation as the teacher's cmd/agent cli.go + main.go.
type CLI struct {
	Config   string `help:"Path to agentset.toml" default:"agentset.toml"`
	Port     int    `help:"Override the configured HTTP port" default:"0"`
	LogLevel string `help:"Log level: debug, info, warn, error" default:"info"`
}
