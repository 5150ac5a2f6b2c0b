// Package migrations holds the goose SQL migrations applied to every facility schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
