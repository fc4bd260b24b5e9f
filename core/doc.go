// Package core defines the shared data model of AgentGrid: conversation
// messages, agent configuration, execution records with their step timelines
// and metrics, delegation requests, and the lifecycle event emitter.
//
// Everything else in the module depends on core; core depends on nothing but
// the standard library and uuid. Types here are deliberately plain so they
// can be serialized into checkpoints and inspected by callers.
package core
