package web

import (
	"embed"
)

// staticFiles holds the page served at "/".
//
//go:embed static/*
var staticFiles embed.FS
