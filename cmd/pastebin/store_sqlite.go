//go:build sqlite

package main

import (
	"pastebin-lite/internal/storage"
	"pastebin-lite/internal/storage/sqlitestore"
)

func openSQLite(path string) (storage.Backend, error) {
	return sqlitestore.Open(path)
}
