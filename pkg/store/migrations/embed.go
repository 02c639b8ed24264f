package migrations

import "embed"

// FS contains the embedded schema migrations. They are written in the SQL
// subset shared by SQLite and PostgreSQL.
//
//go:embed *.sql
var FS embed.FS
