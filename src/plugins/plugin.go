// Package plugins hosts compiled bank integration plugins.
//
// Plugins are Go packages compiled into the binary and registered through
// Register at init time. A plugin directory on disk still carries a
// manifest.yaml per plugin; the manifest is the operator-facing declaration
// of what the plugin is and what it is allowed to do. Loading pairs a
// discovered manifest with its registered constructor.
//
// Trust boundary: plugin code is reviewed but not sandboxed. The host checks
// that every permission the code asserts is declared in the manifest and
// granted by the operator, which catches undeclared behavior but is not an
// isolation guarantee.
package plugins

import (
	"context"
	"fmt"

	"github.com/username/wealthos/backend/src/connectors"
	"github.com/username/wealthos/backend/src/models"
)

// Permission is a host resource a plugin must declare before use.
type Permission string

const (
	PermissionNetwork    Permission = "network"
	PermissionFilesystem Permission = "filesystem"
	PermissionSubprocess Permission = "subprocess"
)

// knownPermissions is the closed permission enumeration.
var knownPermissions = map[Permission]bool{
	PermissionNetwork:    true,
	PermissionFilesystem: true,
	PermissionSubprocess: true,
}

// DefaultGrantedPermissions is what the host allows unless the operator
// widens it. Subprocess is never granted by default.
var DefaultGrantedPermissions = []Permission{PermissionNetwork}

// Plugin is the contract a bank integration plugin implements on top of the
// standard connector surface.
type Plugin interface {
	connectors.Connector

	// GetAccounts enumerates the accounts reachable through this plugin.
	GetAccounts(ctx context.Context) ([]models.AccountInfo, error)

	// RequiredPermissions asserts the host resources the plugin code uses.
	// Every entry must also appear in the plugin's manifest.
	RequiredPermissions() []Permission
}

// Constructor builds a plugin instance from its configured settings.
type Constructor func(settings map[string]string) (Plugin, error)

// AuthError is an authentication failure inside plugin code.
type AuthError struct {
	PluginID string
	Message  string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("plugin %s: authentication failed: %s", e.PluginID, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// DataError is a data retrieval failure inside plugin code.
type DataError struct {
	PluginID string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("plugin %s: %s", e.PluginID, e.Message)
}

func (e *DataError) Unwrap() error { return e.Err }

// ValidationError reports every issue found while validating a plugin.
// Issues are collected, not short-circuited, so the operator sees the full
// list at once.
type ValidationError struct {
	PluginID string
	Issues   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plugin %s failed validation: %d issue(s): %v", e.PluginID, len(e.Issues), e.Issues)
}

// LoadError is a non-validation failure while loading a plugin.
type LoadError struct {
	PluginID string
	Message  string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading plugin %s: %s", e.PluginID, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }
