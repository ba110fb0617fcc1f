// Package history journals confirmed channel state changes to SQLite.
//
// Only changes the hub actually reported are recorded, so the journal
// reflects what happened rather than what was requested. Entries are
// pruned on a retention schedule.
package history
