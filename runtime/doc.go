// Package runtime assembles the reactor, scheduler and engine into a
// single Run call that executes a payload unit and reports a
// process-level Status.
//
// The package is the embedding surface: host programs construct a
// Runtime directly and feed it units from any source. The standalone
// bootstrap in package standalone is just one such source, layered on
// top by cmd/lantern.
package runtime
