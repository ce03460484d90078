// Package configs provides the embedded configuration template.
//
// The template is embedded at build time so `suggest config init` works
// from any distribution. It documents every key understood by
// internal/config and mirrors the defaults of config.NewConfig.
package configs

import _ "embed"

// ExampleConfig is written by `suggest config init` to the user config
// path, or to .suggest.yaml with --project.
//
//go:embed suggest.example.yaml
var ExampleConfig string
