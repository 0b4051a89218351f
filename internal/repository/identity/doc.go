// Package identity persists the device identity: the GUID set once during
// onboarding and read on every Startup. Absence is reported as ErrNotFound.
//
// FileStore keeps the values in a YAML file, SQLiteStore in a SQLite table.
package identity
