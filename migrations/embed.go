// Package migrations embeds the gatekeeper schema so binaries can apply it
// without shipping loose SQL files.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var files embed.FS

// FS returns the migration filesystem rooted at the SQL directory.
func FS() fs.FS {
	sub, err := fs.Sub(files, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}
