// Package assets holds static configuration embedded into the binary.
package assets

import _ "embed"

// SystemInstruction steers every agent turn. It enables delegation to
// sub-agents for multi-step work.
//
//go:embed prompt.txt
var SystemInstruction string
