package image

import "context"

// EditRequest carries the staged image and the interpreted instruction.
type EditRequest struct {
	Data        []byte
	MIME        string
	Instruction string
	RequestID   string
}

// EditResult is the outcome of an edit call. Degraded results have no payload
// and must not be persisted; Cause explains what went wrong.
type EditResult struct {
	Data     []byte
	MIME     string
	Degraded bool
	Cause    error
}

// Editor is the contract implemented by image editing providers.
type Editor interface {
	Edit(ctx context.Context, req EditRequest) EditResult
}

// Degrade builds the fallback result for a failed edit.
func Degrade(cause error) EditResult {
	return EditResult{Degraded: true, Cause: cause}
}
