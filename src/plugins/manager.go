package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/username/wealthos/backend/src/connectors"
	"github.com/username/wealthos/backend/src/logger"
)

// ConfigSchema describes the settings a plugin expects, for operator UIs.
type ConfigSchema struct {
	Required           []string `json:"required"`
	Optional           []string `json:"optional"`
	AuthenticationType string   `json:"authentication_type"`
}

// Manager handles plugin discovery, validation and lifecycle. Discovery
// scans the plugins directory for manifests without touching plugin code;
// loading pairs a valid manifest with its compiled constructor and caches a
// single instance per plugin id.
type Manager struct {
	pluginsDir string
	granted    map[Permission]bool

	mu         sync.Mutex
	discovered map[string]*Manifest
	loaded     map[string]Plugin
}

func NewManager(pluginsDir string, granted []Permission) *Manager {
	if granted == nil {
		granted = DefaultGrantedPermissions
	}
	grantedSet := make(map[Permission]bool, len(granted))
	for _, p := range granted {
		grantedSet[p] = true
	}
	return &Manager{
		pluginsDir: pluginsDir,
		granted:    grantedSet,
		discovered: make(map[string]*Manifest),
		loaded:     make(map[string]Plugin),
	}
}

// Discover scans the plugins directory for subdirectories carrying a
// manifest.yaml. It returns the manifests of every plugin found; it never
// runs plugin code. Directories with a broken manifest are logged and
// skipped.
func (m *Manager) Discover() ([]*Manifest, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.L.Warn("Plugins directory not found", "dir", m.pluginsDir)
			return nil, nil
		}
		return nil, fmt.Errorf("scanning plugins directory %s: %w", m.pluginsDir, err)
	}

	m.mu.Lock()
	m.discovered = make(map[string]*Manifest)
	m.mu.Unlock()

	var manifests []*Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}

		manifestPath := filepath.Join(m.pluginsDir, name, "manifest.yaml")
		if _, err := os.Stat(manifestPath); err != nil {
			logger.L.Debug("Skipping directory without manifest", "dir", name)
			continue
		}

		manifest, err := ParseManifest(manifestPath)
		if err != nil {
			logger.L.Error("Failed to parse plugin manifest", "dir", name, "error", err)
			continue
		}
		if manifest.ID == "" {
			logger.L.Error("Plugin manifest has no id", "dir", name)
			continue
		}

		m.mu.Lock()
		m.discovered[manifest.ID] = manifest
		m.mu.Unlock()
		manifests = append(manifests, manifest)
		logger.L.Info("Discovered plugin", "id", manifest.ID, "name", manifest.Name, "version", manifest.Version)
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].ID < manifests[j].ID })
	return manifests, nil
}

// Validate checks a discovered plugin without instantiating it: manifest
// schema, presence of a compiled constructor, and that every declared
// permission is granted by the host. All issues are returned together.
func (m *Manager) Validate(pluginID string) (bool, []string) {
	m.mu.Lock()
	manifest, found := m.discovered[pluginID]
	m.mu.Unlock()
	if !found {
		return false, []string{fmt.Sprintf("plugin not found: %s", pluginID)}
	}

	issues := manifest.Validate()

	if _, registered := lookupConstructor(pluginID); !registered {
		issues = append(issues, fmt.Sprintf("no compiled implementation registered for id %s", pluginID))
	}

	for _, perm := range manifest.Permissions {
		if knownPermissions[Permission(perm)] && !m.granted[Permission(perm)] {
			issues = append(issues, fmt.Sprintf("permission not granted by host: %s", perm))
		}
	}

	return len(issues) == 0, issues
}

// Load validates, constructs and caches a plugin instance. It is
// idempotent: a second Load for the same id returns the cached instance
// without re-running the constructor. The instance's asserted permissions
// are checked against the manifest before it is returned, so undeclared
// resource use blocks the load.
func (m *Manager) Load(pluginID string, settings map[string]string) (Plugin, error) {
	m.mu.Lock()
	if instance, ok := m.loaded[pluginID]; ok {
		m.mu.Unlock()
		return instance, nil
	}
	manifest, found := m.discovered[pluginID]
	m.mu.Unlock()

	if !found {
		return nil, &LoadError{PluginID: pluginID, Message: "plugin not discovered"}
	}

	if ok, issues := m.Validate(pluginID); !ok {
		return nil, &ValidationError{PluginID: pluginID, Issues: issues}
	}

	for _, field := range manifest.RequiredFields {
		if settings[field] == "" {
			return nil, &ValidationError{
				PluginID: pluginID,
				Issues:   []string{fmt.Sprintf("missing required setting: %s", field)},
			}
		}
	}

	ctor, _ := lookupConstructor(pluginID)
	instance, err := ctor(settings)
	if err != nil {
		return nil, &LoadError{PluginID: pluginID, Message: "constructor failed", Err: err}
	}

	var undeclared []string
	for _, perm := range instance.RequiredPermissions() {
		if !manifest.DeclaresPermission(perm) {
			undeclared = append(undeclared, fmt.Sprintf("code requires permission not declared in manifest: %s", perm))
		}
	}
	if len(undeclared) > 0 {
		return nil, &ValidationError{PluginID: pluginID, Issues: undeclared}
	}

	m.mu.Lock()
	// Another goroutine may have loaded it while the constructor ran.
	if existing, ok := m.loaded[pluginID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.loaded[pluginID] = instance
	m.mu.Unlock()

	logger.L.Info("Loaded plugin", "id", pluginID, "version", manifest.Version)
	return instance, nil
}

// Unload disconnects and drops the cached instance. Disconnect failures are
// logged and swallowed. Returns false when the plugin was not loaded.
func (m *Manager) Unload(ctx context.Context, pluginID string) bool {
	m.mu.Lock()
	instance, ok := m.loaded[pluginID]
	delete(m.loaded, pluginID)
	m.mu.Unlock()
	if !ok {
		return false
	}

	if err := connectors.Disconnect(ctx, instance); err != nil {
		logger.L.Warn("Plugin disconnect failed during unload", "id", pluginID, "error", err)
	}
	logger.L.Info("Unloaded plugin", "id", pluginID)
	return true
}

// UnloadAll unloads every loaded plugin.
func (m *Manager) UnloadAll(ctx context.Context) {
	for _, id := range m.LoadedIDs() {
		m.Unload(ctx, id)
	}
}

// GetManifest returns the discovered manifest for a plugin id.
func (m *Manager) GetManifest(pluginID string) (*Manifest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	manifest, ok := m.discovered[pluginID]
	return manifest, ok
}

// ListManifests returns all discovered manifests sorted by id.
func (m *Manager) ListManifests() []*Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	manifests := make([]*Manifest, 0, len(m.discovered))
	for _, manifest := range m.discovered {
		manifests = append(manifests, manifest)
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].ID < manifests[j].ID })
	return manifests
}

// ListByCapability returns discovered manifests declaring a capability.
func (m *Manager) ListByCapability(capability string) []*Manifest {
	var out []*Manifest
	for _, manifest := range m.ListManifests() {
		for _, cap := range manifest.Capabilities {
			if cap == capability {
				out = append(out, manifest)
				break
			}
		}
	}
	return out
}

// ListByCountry returns discovered manifests supporting an ISO country code.
func (m *Manager) ListByCountry(countryCode string) []*Manifest {
	var out []*Manifest
	for _, manifest := range m.ListManifests() {
		for _, cc := range manifest.SupportedCountries {
			if cc == countryCode {
				out = append(out, manifest)
				break
			}
		}
	}
	return out
}

// LoadedIDs lists the ids of currently loaded plugins.
func (m *Manager) LoadedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.loaded))
	for id := range m.loaded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsLoaded reports whether a plugin instance is cached.
func (m *Manager) IsLoaded(pluginID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loaded[pluginID]
	return ok
}

// GetConfigSchema describes the settings a discovered plugin expects.
func (m *Manager) GetConfigSchema(pluginID string) (*ConfigSchema, bool) {
	manifest, ok := m.GetManifest(pluginID)
	if !ok {
		return nil, false
	}
	authType := manifest.AuthenticationType
	if authType == "" {
		authType = connectors.AuthAPIKey
	}
	return &ConfigSchema{
		Required:           append([]string(nil), manifest.RequiredFields...),
		Optional:           append([]string(nil), manifest.OptionalFields...),
		AuthenticationType: authType,
	}, true
}
