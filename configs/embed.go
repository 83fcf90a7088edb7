// Package configs provides embedded configuration templates for finrag.
//
// Templates are embedded at build time so `finrag config init` works from
// any distribution.
//
// Configuration hierarchy (see internal/config/config.go Load()):
//  1. Hardcoded defaults (internal/config/config.go NewConfig())
//  2. User config (~/.config/finrag/config.yaml)
//  3. Project config (.finrag.yaml)
//  4. Environment variables (FINRAG_*)
package configs

import _ "embed"

// ProjectConfigTemplate is the commented template written by
// `finrag config init` to .finrag.yaml. Every value matches NewConfig.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
