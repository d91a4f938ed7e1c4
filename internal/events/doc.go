// Package events provides types and interfaces for an event-driven architecture.
//
// The dependency engine publishes two kinds of events: task_status_changed
// after it promotes a task, and dependency_changed for each task touched by
// an edge mutation. Listeners such as cache invalidation or notification
// dispatch subscribe through EventHandler without the engine knowing them.
//
// The primary components are:
// - Event: a typed notification with a JSON payload
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
