// Package config holds the CLI configuration types.
package config

import (
	"os"
	"path/filepath"
)

// Config stores all parameters gathered from flags and interactive prompts.
type Config struct {
	ServerURL   string // signaling relay base URL, e.g. wss://swapit.example.com
	UserID      int    // local user's id, as issued by the account service
	DisplayName string // shown to the remote party on outgoing calls
	Video       bool   // audio+video call instead of audio-only
	DataDir     string // location of the local preference database
}

// DefaultDataDir returns the per-user data directory for the preference
// database.
func DefaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ".swapit-calls"
	}
	return filepath.Join(base, "swapit-calls")
}
