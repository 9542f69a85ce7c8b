// Package all is a convenience wrapper that registers all known board implementations.
// Importing this package enables the gobalance factory to find drivers for any
// supported board.
package all

// Import each implementation package for its side-effects (the init() function).
import (
	_ "github.com/mlsorensen/gobalance/pkg/boards/balanceboard"
	_ "github.com/mlsorensen/gobalance/pkg/boards/mock"
)
