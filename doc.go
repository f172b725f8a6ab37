// Package conclave provides a declarative multi-agent orchestration
// runtime: a Principal planning agent decomposes a user goal into work
// modules, dispatches them in parallel to Associate agents, and synthesizes
// their findings into a final report.
//
// # Quick Start
//
// Install conclave:
//
//	go install github.com/kadirpekel/conclave/cmd/conclaved@latest
//
// Define agent profiles as YAML and start a run:
//
//	conclaved run --profiles ./profiles "Summarize the state of fusion research"
//
// Or start the HTTP server and stream a run's events over SSE:
//
//	conclaved serve --profiles ./profiles --addr :8080
//
// # Using as a Go library
//
// Import the run package to supervise a run programmatically:
//
//	import "github.com/kadirpekel/conclave/run"
//
// Or import specific packages — state, expr, profile, turn, flow,
// dispatch, planning — to compose a custom orchestration loop.
//
// # Architecture
//
// One run owns a shared team-state tree, an event bus, a read-only tool
// registry, and a Principal flow. The Principal plans work modules via
// manage_work_modules, dispatches them to child Associate flows via
// dispatch_submodules, and synthesizes their deliverables into a markdown
// report via generate_markdown_report before ending the run.
//
// # Status
//
// conclave is under active development. APIs may change.
package conclave
