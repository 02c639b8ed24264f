// Package store persists alerts and call attempts in a SQL database. SQLite
// (modernc.org/sqlite, no cgo) is the default; PostgreSQL is supported through
// lib/pq for deployments running more than one replica.
package store
