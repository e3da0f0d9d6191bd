// Package database opens the PostgreSQL pool used by the connection journal.
package database
