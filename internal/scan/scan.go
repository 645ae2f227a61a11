// Package scan talks to the external virus-scanning service.
package scan

import (
	"context"
	"io"
)

// Result is the verdict for one file.
type Result struct {
	Clean  bool
	Threat string
}

// Scanner inspects file content. An error means no verdict could be obtained;
// callers decide whether that blocks the file.
type Scanner interface {
	Scan(ctx context.Context, name string, content io.Reader) (Result, error)
}

// Disabled is used when scanning is switched off. Every file is clean.
type Disabled struct{}

func (Disabled) Scan(context.Context, string, io.Reader) (Result, error) {
	return Result{Clean: true}, nil
}
