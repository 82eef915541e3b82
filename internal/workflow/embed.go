package workflow

import "embed"

// builtinTemplates embeds every built-in workflow definition.
//
//go:embed templates/*.yaml
var builtinTemplates embed.FS
