package subscriptions

import "embed"

// embedMigrations contains the embedded subscription-store schema.
//
//go:embed migrations/*.sql
var embedMigrations embed.FS
