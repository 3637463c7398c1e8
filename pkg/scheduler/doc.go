// Package scheduler fetches many independent keyed sub-resources with a
// fixed concurrency cap.
//
// A Scheduler owns a FIFO request queue and an in-flight set. Enqueue is
// idempotent: a key that is queued or in flight is ignored. The queue is
// drained while fewer than Limit (3) fetches run; every completion, success
// or failure, drains it again so one bad key never stalls the rest.
//
// Example usage:
//
//	s := scheduler.New(ctx, scheduler.Config[int, string]{
//		ScopeID: "previews:" + gid,
//		Fetch:   fetchPreviewBatch,
//		Ready:   func(int) bool { return galleryURL != "" },
//		Writer:  writer,
//		Logger:  logging.NewLogger("previews"),
//	})
//	defer s.Close()
//	s.Enqueue(1, 2, 3, 4, 5)
//
// State is mutated only by the scheduler's own goroutine, which consumes a
// single event channel: requests from callers and completions from fetch
// goroutines arrive there in order and are matched by one type switch.
// Fetch results are merged into the result cache with existing-wins
// semantics, so completion order never matters.
//
// Per-key loading slots follow the loading package state machine. A failed
// slot stays failed until Retry; cancellation restores the state the slot
// had before the fetch was issued.
package scheduler
