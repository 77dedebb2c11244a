// Package all registers every storage backend. Importing it for side
// effects gives a binary the full set of kinds without wiring each one.
package all

import (
	_ "ingest/internal/storage/memory"
	_ "ingest/internal/storage/mongo"
	_ "ingest/internal/storage/mssql"
	_ "ingest/internal/storage/postgres"
	_ "ingest/internal/storage/sqlite"
)
