// Package fbs is the resilience and orchestration layer between a
// self-service library terminal and an FBS-style library back end that is
// only reachable through a stateful, session-oriented line protocol.
//
// The back end is unreliable: it can be slow, refuse connections, or
// silently stop responding. This package therefore provides:
//
//   - Facade: a per-call wrapper around a protocol Transport that fetches
//     configuration fresh for every call and translates low-level results
//     into typed outcomes.
//   - Monitor: a perpetual, timer-driven online/offline state machine with
//     hysteresis (a configurable number of consecutive successful checks is
//     required before flipping back to online) and a watchdog timer that
//     guarantees the poll chain can never silently die.
//   - Fallback: an offline queue that degrades checkout and check-in to a
//     provisional "accepted offline" result backed by a durable append-only
//     record and a reconciliation job for later replay.
//
// Wire-level encoding of the line protocol is owned by Transport
// implementations and is out of scope here, as are kiosk presentation
// concerns. Durable storage engines live in the offlinestore (Postgres) and
// badgerstore (embedded) sub-packages; the in-process request/response bus
// lives in the bus sub-package.
package fbs
