// Package aster is the execution core of a conversational coding agent: a
// provider-driven streaming tool loop with transcript persistence, resumable
// event streams, usage accounting, and context compaction.
//
// The root package holds the content model, the agent loop, and the
// registries it composes requests from. Backends live in subpackages:
// provider/anthropic speaks the Anthropic Messages API, session/sqlite and
// session/memory persist transcripts, eventstore keeps resumable stream
// logs, and observer adds OpenTelemetry instrumentation. The tools tree
// carries the built-in sandboxed tools, and cmd/asterd wires everything
// behind the HTTP/SSE surface.
package aster
