package ingest

import (
	"fmt"
	"sort"
	"strings"
)

// SchemaMismatchError is fatal for a file: its header shares nothing with
// the declared source type, so every row would stage as noise. It carries
// enough detail for a retry-with-correction workflow.
type SchemaMismatchError struct {
	File       string
	SourceType string
	Expected   []string
	Found      []string
}

func (e *SchemaMismatchError) Error() string {
	exp := append([]string(nil), e.Expected...)
	sort.Strings(exp)
	return fmt.Sprintf(
		"schema mismatch: %s declared as %s but no expected column present (expected any of: %s; found: %s)",
		e.File, e.SourceType,
		strings.Join(exp, ", "),
		strings.Join(e.Found, ", "),
	)
}
