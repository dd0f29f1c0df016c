//go:build !sqlite

package main

import (
	"errors"

	"pastebin-lite/internal/storage"
)

func openSQLite(string) (storage.Backend, error) {
	return nil, errors.New("sqlite support not built in, rebuild with -tags sqlite")
}
