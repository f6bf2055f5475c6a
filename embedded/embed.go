// Package embedded carries the board description shipped with the tool.
package embedded

import (
	_ "embed"
)

//go:embed board.yaml
var board []byte

// Board returns the default board description in YAML.
func Board() []byte {
	return board
}
