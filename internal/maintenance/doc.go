// Package maintenance runs the periodic housekeeping jobs of the server on
// cron schedules:
//
//   - reconcile: aligns auto-pull tasks with the device table, picking up
//     devices whose settings changed outside the API and restarting tasks
//     that stopped themselves.
//   - retention: deletes readings older than the configured number of days.
//
// An empty schedule disables a job. Retention is also disabled when
// RetentionDays is zero.
package maintenance
