// Package migrations embeds the per-driver schema migration files. The
// sqlite and postgres directories carry the same logical schema expressed in
// each dialect; file names order the migration sequence.
package migrations

import "embed"

//go:embed sqlite/*.sql
var Sqlite embed.FS

//go:embed postgres/*.sql
var Postgres embed.FS
