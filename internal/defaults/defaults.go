// Package defaults embeds the starter configuration written by
// godel init.
package defaults

import _ "embed"

// ConfigYAML is the annotated example godel.yaml.
//
//go:embed godel.example.yaml
var ConfigYAML []byte
