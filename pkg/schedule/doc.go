// Package schedule provides scheduling implementations for recurring
// maintenance work: stale-worker reaping and stats collection.
//
// This package includes:
//   - Schedule interface for computing the next run time
//   - Every() for fixed-interval schedules
//   - Daily() for daily schedules at a specific time
//   - Weekly() for weekly schedules on a specific day and time
//   - Cron() for cron expression-based schedules
//   - Jittered() to spread run times across replicated schedulers
//
// Most users should import the root package github.com/mailcanary/renderq
// which re-exports these functions.
package schedule
