package core

import (
	"fmt"
	"sort"
	"sync"
)

// LayoutDefinition is everything the transformer and the codecs need to
// know about one layout kind beyond the shared fixed columns.
type LayoutDefinition struct {
	Kind LayoutKind

	// Sentinel is the category stored on synthesized total records.
	Sentinel Category

	// CategoryColumns are the persisted column headers for the category,
	// in output order.
	CategoryColumns []string

	// ParseIdentifier turns a block identifier cell into a category.
	ParseIdentifier func(text string) (Category, error)

	// CategoryValues renders a category into CategoryColumns order.
	CategoryValues func(c Category) []string

	// ParseCategoryValues is the inverse of CategoryValues.
	ParseCategoryValues func(values []string) (Category, error)
}

var (
	registry   = make(map[LayoutKind]LayoutDefinition)
	registryMu sync.RWMutex
)

// Register adds a layout definition to the registry.
// Panics if the layout is already registered or the definition is incomplete.
func Register(def LayoutDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Kind]; exists {
		panic(fmt.Sprintf("layout already registered: %s", def.Kind))
	}
	if def.ParseIdentifier == nil || def.CategoryValues == nil || def.ParseCategoryValues == nil {
		panic(fmt.Sprintf("layout %s: incomplete definition", def.Kind))
	}

	registry[def.Kind] = def
}

// Lookup returns a layout definition by kind.
// Returns false if not found.
func Lookup(kind LayoutKind) (LayoutDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[kind]
	return def, ok
}

// Layouts returns all registered layout definitions ordered by kind.
func Layouts() []LayoutDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]LayoutDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Kind < result[j].Kind
	})

	return result
}

// Clear removes all registered layouts.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[LayoutKind]LayoutDefinition)
}
