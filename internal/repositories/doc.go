// Package repositories persists users, mirrored libraries and sync run history.
//
// Implementations:
//   - [UserRepository] : credentials, upserted by provider account ID
//   - [LibraryRepository] : the mirror on database/sql (SQLite by default)
//   - [PostgresLibrary] : the mirror on a pgx pool
//   - [SyncRunRepository] : one row per sync call
//
// A library is only ever written through Replace, which swaps a user's whole mirror in a single
// transaction. Readers see either the previous mirror or the new one.
//
// Repositories on database/sql take a [shared.Dialect] so the same queries run against SQLite
// and Postgres (through the pgx stdlib driver).
package repositories
