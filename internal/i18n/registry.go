package i18n

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
)

// Registry stores adapters and resolves a default one.
type Registry struct {
	adapters       map[string]Adapter
	defaultAdapter string
}

func NewRegistry(defaultAdapter string) *Registry {
	normalizedDefault := normalizeAdapterName(defaultAdapter)
	if normalizedDefault == "" {
		normalizedDefault = NameDocumentInternationalization
	}

	return &Registry{
		adapters:       make(map[string]Adapter),
		defaultAdapter: normalizedDefault,
	}
}

// NewRegistryForStore registers the built-in adapters over store.
func NewRegistryForStore(store contentstore.Store, defaultAdapter string, translatableTypes []string, languageField string) *Registry {
	registry := NewRegistry(defaultAdapter)
	_ = registry.Register(NewDocumentInternationalization(store, DocumentInternationalizationOptions{
		TranslatableTypes: translatableTypes,
		LanguageField:     languageField,
	}))
	_ = registry.Register(NewFieldLanguage(store, translatableTypes, languageField))
	return registry
}

// Register adds one adapter.
func (r *Registry) Register(adapter Adapter) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	name := normalizeAdapterName(adapter.Name())
	if name == "" {
		return fmt.Errorf("adapter name is required")
	}
	r.adapters[name] = adapter
	return nil
}

// Adapter resolves an adapter by name. Empty names use the default.
func (r *Registry) Adapter(name string) (Adapter, error) {
	if r == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	if len(r.adapters) == 0 {
		return nil, fmt.Errorf("no i18n adapters are registered")
	}

	resolvedName := normalizeAdapterName(name)
	if resolvedName == "" {
		resolvedName = r.defaultAdapter
	}
	adapter, ok := r.adapters[resolvedName]
	if ok {
		return adapter, nil
	}

	return nil, fmt.Errorf("i18n adapter %q is not registered (available: %s)", resolvedName, strings.Join(r.AdapterNames(), ", "))
}

func (r *Registry) DefaultAdapter() string {
	if r == nil {
		return ""
	}
	return r.defaultAdapter
}

func (r *Registry) AdapterNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeAdapterName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
