// Package domain contains the core business entities of the dependency
// engine: tasks as seen by the engine, directed dependency edges between
// them, and the error types that describe rejected graph changes.
//
// Entities here validate their own shape. Rules that need the rest of the
// graph (duplicates, cycles, task existence) are enforced by the service
// layer; the pure traversal lives in the graph subpackage.
package domain
