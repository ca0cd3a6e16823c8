// Package execution holds the batch operators used by compaction.
package execution

import "context"

// Operator transforms one input into one output.
type Operator[I, O any] interface {
	Run(ctx context.Context, input I) (O, error)
}
