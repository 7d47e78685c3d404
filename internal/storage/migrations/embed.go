package migrations

import "embed"

// PostgresFS holds the dataset, fill and run report tables.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS holds the market event and equity sample tables.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
