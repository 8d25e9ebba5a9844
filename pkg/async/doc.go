// Package async provides safe concurrent execution primitives for
// background tasks.
//
// SafeGo runs a background loop with panic recovery and logging:
//
//	async.SafeGo(ctx, logger, 0, "db stats", func(ctx context.Context) error {
//		return pollStats(ctx)
//	})
//
// Batch fans a slice out over a fixed number of workers and collects every
// error, which the audit archiver uses to upload projects in parallel:
//
//	errs := async.Batch(ctx, projectIDs, 4, time.Minute, upload)
package async
