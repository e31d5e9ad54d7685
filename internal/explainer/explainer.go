// Package explainer turns a student's failing Python into a Markdown
// explanation for the runner's POST /explain.
package explainer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured means no model backend is set up (e.g. no API key).
var ErrNotConfigured = errors.New("explainer is not configured")

// MaxCodeBytes is the largest program sent to a model.
const MaxCodeBytes = 20000

// Explainer explains code.
type Explainer interface {
	Explain(ctx context.Context, code string) (string, error)
}

// Unconfigured is the Explainer used when no backend is available.
type Unconfigured struct{}

func (Unconfigured) Explain(context.Context, string) (string, error) {
	return "", ErrNotConfigured
}

// BuildPrompt creates the mentor prompt for code.
func BuildPrompt(code string) string {
	if len(code) > MaxCodeBytes {
		code = code[:MaxCodeBytes] + "\n# ... (truncated)"
	}

	return fmt.Sprintf(`You are Nalar, a patient programming mentor for beginners learning Python.

A student ran the program below and it failed with an error.

Rules:
1. Answer in Markdown
2. Start with one sentence naming the error in plain language
3. Point to the exact line that causes it and explain why
4. Show the smallest fix as a short code block
5. End with one tip that helps avoid this mistake next time
6. Keep it under 250 words and do not rewrite the whole program

Program:
%s
`, fence(code))
}

// fence wraps code in a Markdown block whose backtick run is longer than any
// run inside the code.
func fence(code string) string {
	longest, run := 0, 0
	for _, r := range code {
		if r == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	marker := strings.Repeat("`", max(3, longest+1))
	return marker + "python\n" + strings.TrimRight(code, "\n") + "\n" + marker
}
