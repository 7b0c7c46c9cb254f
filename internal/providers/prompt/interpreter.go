package prompt

import "context"

// Interpretation is the outcome of passing a user prompt through the text
// service. Degraded results carry the original prompt as Text together with
// the cause, so callers always receive usable text but must acknowledge that
// no interpretation happened.
type Interpretation struct {
	Text     string
	Degraded bool
	Cause    error
}

// Interpreter turns a raw editing request into an instruction suitable for
// the image service.
type Interpreter interface {
	Interpret(ctx context.Context, prompt string) Interpretation
}

// Degrade builds the fallback result for a failed interpretation.
func Degrade(prompt string, cause error) Interpretation {
	return Interpretation{Text: prompt, Degraded: true, Cause: cause}
}
