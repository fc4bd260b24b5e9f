// Package model defines the provider-agnostic abstractions and concrete
// helpers for interacting with language / reasoning models inside AgentGrid.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, core.ToolCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockProvider)
//
// Providers (e.g. OpenAI, Anthropic) implement the Provider interface from
// this package so higher layers (graph, engine) remain decoupled from vendor
// SDKs.
package model
