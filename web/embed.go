// Package web embeds the HTML templates served by the application.
package web

import "embed"

//go:embed templates
var Templates embed.FS
