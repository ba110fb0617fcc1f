// Package database provides the SQLite connection used by the bridge's
// channel-state change journal.
//
// It handles directory creation, connection pragmas (WAL, foreign keys,
// busy timeout), file permissions, and connection verification. Schema
// management lives with the journal itself in internal/history.
package database
