package database

import (
	"embed"
	"io/fs"
)

// EmbeddedMigrations holds migrations/*.sql. Use Migrations() for a
// filesystem rooted at the migrations directory.
//
//go:embed migrations/*.sql
var EmbeddedMigrations embed.FS

// Migrations returns the embedded migrations rooted at "migrations".
func Migrations() fs.FS {
	sub, err := fs.Sub(EmbeddedMigrations, "migrations")
	if err != nil {
		// the directory is embedded at compile time
		panic(err)
	}
	return sub
}
