// Package database provides the PostgreSQL connection pool used by the
// message journal.
package database
