package ports

import "context"

// CompletionPort is the AI backend: given a prompt, return a completion.
// Invoked only after a message survives all stage and quota gating.
type CompletionPort interface {
	GetCompletion(ctx context.Context, prompt string) (string, error)
}
