// Package sweep runs the periodic pass that promotes pending tasks whose
// dependencies have been satisfied.
package sweep
