// Package fbstest provides test doubles for the fbs integration layer:
// a scripted Transport, a controllable fake clock, spy collectors, and
// in-memory implementations of the durable store and reconciliation queue.
package fbstest
