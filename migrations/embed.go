// Package migrations embeds the controller's SQL schema migrations.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var files embed.FS

// FS returns the embedded migration files, rooted at the .sql files.
func FS() fs.FS {
	return files
}
