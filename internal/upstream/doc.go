// Package upstream implements the stateless Upstream Client of spec.md
// §4.2: a GET against a configured upstream base URL, either buffered in
// memory (narinfo) or streamed to a caller-supplied file (archives), with a
// shared user-agent and request timeout.
package upstream
