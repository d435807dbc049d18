// Package announce implements the relay's announce delivery queue: a
// per-destination, debounced, capacity-bounded mailbox with pluggable drop
// and coalescing policies and a single serialized drain task per
// destination.
//
// # Shape
//
// Store holds all queue state behind one mutex; it is injected into the
// flow Controller and owns the drain goroutines through a supervisor, so
// "is draining" is first-class inspectable state instead of a detached
// background routine.
//
// # Ordering
//
// Within one destination, items deliver in strict enqueue order, except
// when the evict-oldest policy drops items first (those are summarized in
// an overflow notice, not silently lost) or when collect mode coalesces a
// batch (order is preserved inside the combined payload). Keys drain fully
// independently; there is no cross-key ordering.
package announce
