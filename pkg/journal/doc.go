// Package journal persists admission decisions to SQLite for audit and
// debugging. It plugs into the limiter as an admission.Observer.
//
// # Recording Flow
//
// Decisions are written asynchronously so the serving path never waits on
// the database:
//
//  1. The limiter delivers a DecisionEvent after each admission check
//  2. ObserveDecision enqueues it to a buffered channel without blocking
//  3. A background goroutine batches events and writes one transaction
//     per batch
//  4. Partial batches are flushed on a timer
//  5. Close drains the channel before shutting down
//
// When the buffer is full, events are dropped and counted rather than
// queued; Dropped reports the total.
//
// # Basic Usage
//
//	journal, err := journal.Open(&journal.Config{
//	    Path: "data/admission.db",
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	defer journal.Close()
//
//	limiter, err := admission.New(admission.Config{
//	    Observer: journal,
//	})
//
// Recent reads back the newest records for inspection:
//
//	records, err := journal.Recent(ctx, 50)
//
// # Retention
//
// RetentionScheduler deletes old records on a cron schedule:
//
//	scheduler := journal.NewRetentionScheduler(journal, journal.RetentionConfig{
//	    Days:     30,
//	    Schedule: "0 3 * * *",
//	}, logger)
//	scheduler.Start(ctx)
package journal
