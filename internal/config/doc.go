// Package config handles configuration loading, parsing, and validation
// from environment variables (TASKDEPS_ prefix) and an optional YAML file.
// It provides type-safe access to settings needed by the server, the
// database layer and the periodic sweep while keeping configuration details
// separate from the dependency engine itself.
package config
