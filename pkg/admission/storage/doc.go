// Package storage provides the counting backends used by the admission
// engine: in-memory, SQLite, and Redis, each implementing the same window
// counting contract under a selectable strategy.
//
// # Overview
//
// The engine never holds counting state itself. Every mutable counter lives
// behind the Backend interface:
//
//   - CanIncrement: would one more hit fit, without recording it
//   - Increment: record one hit unconditionally
//   - CheckAndIncrement: atomically record one hit only if it fits
//   - WindowStats: remaining capacity and reset time, for headers
//
// CheckAndIncrement is the primitive that carries the concurrency contract:
// two concurrent calls for the same key on a window with one slot left must
// never both succeed, and a denied call must leave the counter untouched.
//
// # Strategies
//
// The counting algorithm is selected per backend at construction time:
//
//   - fixed-window: a counter per window, anchored at the first hit and
//     expiring one window length later
//   - fixed-window-elastic-expiry: like fixed-window, but every recorded
//     hit pushes the expiry out by a full window
//   - moving-window: individual hit timestamps, counted over the trailing
//     window; capacity frees up continuously as hits age out
//
// # Backends
//
// New selects a backend from a URL scheme:
//
//	backend, err := storage.New("memory://", storage.FixedWindow, nil)
//	backend, err := storage.New("redis://localhost:6379/0", storage.MovingWindow, nil)
//	backend, err := storage.New("sqlite:///var/lib/saturn/counters.db", storage.FixedWindow, nil)
//
// The memory backend is the default and keeps everything in process; the
// SQLite backend persists counters across restarts of a single instance;
// the Redis backend shares counters between instances.
//
// # Thread Safety
//
// All backends are safe for concurrent use. The memory backend uses a
// mutex-guarded map, the SQLite backend serializes writes through a single
// connection in WAL mode, and the Redis backend relies on server-side Lua
// scripts for atomicity.
package storage
