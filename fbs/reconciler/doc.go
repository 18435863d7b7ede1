// Package reconciler replays transactions that were accepted while the back
// end was unreachable. The queue buffers persisted entries in memory; the
// worker wakes up on every published online signal and replays the buffered
// entries as forced no-block transactions carrying their original
// timestamps. A replay that fails because the back end went away again is
// retried with exponential backoff and finally put back at the front of the
// queue, to be picked up on the next online signal.
package reconciler
