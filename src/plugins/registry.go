package plugins

import (
	"sort"
	"sync"
)

// registry is the build-time table of compiled plugin constructors. Plugin
// packages register themselves from init, so importing a plugin package is
// what makes it available.
var registry = struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}{
	constructors: make(map[string]Constructor),
}

// Register adds a compiled plugin constructor under its manifest id.
// Registering the same id twice panics: two plugins claiming one id is a
// build mistake, not a runtime condition.
func Register(id string, ctor Constructor) {
	if id == "" || ctor == nil {
		panic("plugins: Register requires a non-empty id and constructor")
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.constructors[id]; exists {
		panic("plugins: duplicate registration for plugin id " + id)
	}
	registry.constructors[id] = ctor
}

func lookupConstructor(id string) (Constructor, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	ctor, ok := registry.constructors[id]
	return ctor, ok
}

// RegisteredIDs lists the plugin ids compiled into this binary.
func RegisteredIDs() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	ids := make([]string, 0, len(registry.constructors))
	for id := range registry.constructors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
