// Package configs provides embedded configuration templates for codelens.
//
// Templates are embedded at build time with //go:embed so they ship in
// every distribution (source build, release binary, package manager).
//
// Configuration hierarchy (see internal/config/config.go Load()):
//  1. Hardcoded defaults (internal/config/config.go NewConfig())
//  2. User config (~/.config/codelens/config.yaml)
//  3. Project config (.codelens.yaml)
//  4. Environment variables (CODELENS_*)
package configs

import _ "embed"

// UserConfigTemplate is written by `codelens config init` to
// ~/.config/codelens/config.yaml. It holds machine-specific settings:
// embedding provider/host, default log level.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is an example .codelens.yaml for a project root;
// no subcommand writes it out. It holds project-specific settings:
// excluded paths, search fusion weights, submodule discovery.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
