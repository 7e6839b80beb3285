package storage

import "embed"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// BinarySchemaVersion is the highest migration version this binary knows
// how to read. Open refuses to proceed if the database's applied
// version is newer.
const BinarySchemaVersion = 1
