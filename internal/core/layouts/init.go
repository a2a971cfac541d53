// Package layouts registers the NDB prescription layouts with the core registry.
// Import this package to ensure all layouts are registered.
package layouts

// Each layout file uses init() to register its definition.
