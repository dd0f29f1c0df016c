// Package web embeds the HTML templates served by the HTTP adapter.
package web

import "embed"

//go:embed templates/*.tmpl
var Templates embed.FS
