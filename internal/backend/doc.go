// Package backend translates canonical generation requests into the wire
// format of a specific inference engine and extracts the generated text from
// that engine's response. Adapters are registered by engine name and selected
// once at startup; the worker lifecycle only ever calls through the Adapter
// interface.
package backend
