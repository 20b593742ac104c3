//go:build tools

// Package tools tracks Go-based tools invoked through go generate.
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
