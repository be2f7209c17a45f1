package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
)

// DefaultMaxUploadBytes caps a single upload grant when no ceiling is
// configured (1 GB).
const DefaultMaxUploadBytes = 1_000_000_000

// Config is intentionally small and JSON-friendly.
// If AdminUsers is empty, the admin surface relies on its loopback bind.
type Config struct {
	// AdminAddr is the operator surface listen address. Loopback by
	// default; set DisableAdmin to not serve it at all.
	AdminAddr    string `json:"adminAddr"`
	DisableAdmin bool   `json:"disableAdmin,omitempty"`

	// UserAddr is the public surface listen address.
	UserAddr string `json:"userAddr"`

	// FilesRoot is the directory share references resolve against
	// (required).
	FilesRoot string `json:"filesRoot"`

	// StateDir holds shares, uploads, temp files, and thumbnails.
	// Default: <filesRoot>/.file-sharer
	StateDir string `json:"stateDir,omitempty"`

	// SharesDir / UploadsDir override the layout beneath StateDir.
	SharesDir  string `json:"sharesDir,omitempty"`
	UploadsDir string `json:"uploadsDir,omitempty"`

	// ExternalURL prefixes rendered links to the user surface, for
	// deployments behind a reverse proxy. Default: http://<UserAddr>,
	// with a wildcard bind host rewritten to a routable one.
	ExternalURL string `json:"externalURL,omitempty"`

	// MaxUploadBytes is the default ceiling for new upload grants.
	MaxUploadBytes int64 `json:"maxUploadBytes,omitempty"`

	// AdminUsers is a map of username -> bcrypt hash for BasicAuth on the
	// admin surface. Generate hashes with the passwd subcommand.
	AdminUsers map[string]User `json:"adminUsers,omitempty"`
}

type User struct {
	Bcrypt string `json:"bcrypt"`
}

// Normalize fills defaults and makes all paths absolute. Call once after
// flags and the config file have been applied.
func (c *Config) Normalize() error {
	if c.FilesRoot == "" {
		return errors.New("config: filesRoot is required")
	}
	abs, err := filepath.Abs(c.FilesRoot)
	if err != nil {
		return fmt.Errorf("config: files root: %w", err)
	}
	c.FilesRoot = abs

	if c.AdminAddr == "" {
		c.AdminAddr = "127.0.0.1:8000"
	}
	if c.UserAddr == "" {
		c.UserAddr = "0.0.0.0:8080"
	}
	if c.StateDir == "" {
		c.StateDir = filepath.Join(c.FilesRoot, ".file-sharer")
	} else if c.StateDir, err = filepath.Abs(c.StateDir); err != nil {
		return fmt.Errorf("config: state dir: %w", err)
	}
	if c.SharesDir == "" {
		c.SharesDir = filepath.Join(c.StateDir, "shares")
	}
	if c.UploadsDir == "" {
		c.UploadsDir = filepath.Join(c.StateDir, "uploads")
	}
	if c.ExternalURL == "" {
		c.ExternalURL = "http://" + linkHost(c.UserAddr)
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return nil
}

// HasAuth reports whether admin BasicAuth is configured.
func (c Config) HasAuth() bool {
	return len(c.AdminUsers) > 0
}

// linkHost rewrites a wildcard bind address into one a recipient can
// actually open; a link to 0.0.0.0 is never routable.
func linkHost(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		return net.JoinHostPort("127.0.0.1", port)
	}
	return addr
}
