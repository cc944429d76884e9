// Package harness runs declarative conformance scenarios against the
// dispatch engine.
//
// A scenario YAML file declares a set of scripted recorder modules and a
// list of steps to drive through the engine. Recorders append every
// delivery they receive to a shared trace; steps use only synchronous
// dispatch operations, so a scenario produces the same trace on every
// run. The trace is checked with declarative assertions and, via goldie,
// against golden snapshots serialized as canonical JSON.
//
// The harness exercises the public engine surface the way an embedding
// application would: modules are registered through factories, the
// engine runs on its own goroutine, and every step crosses the bridge.
package harness
