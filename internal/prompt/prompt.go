// Package prompt builds the text sent to the generative-language API for each
// interaction mode, and locally rejects questions outside the programming
// domain before any network call is made.
package prompt

import (
	"fmt"
	"strings"

	"github.com/doubtsolver/assistant/internal/store"
)

// Mode is the interaction type for a send.
type Mode string

const (
	ModeAsk   Mode = "ask"
	ModeHint  Mode = "hint"
	ModeSolve Mode = "solve"
)

const hintTemplate = `Give me a clear hint for solving this coding problem, without giving away the complete solution.

Problem: %s
Description: %s

Format your response with:
1. What approach to take
2. Which data structures to use
3. Key steps to consider`

const solveTemplate = `Give me a complete, working solution for this problem that I can directly copy and paste.

Problem: %s
Description: %s
Language: %s

Provide ONLY:
1. The complete code solution without explanations in between
2. After the code, briefly explain the time and space complexity

Format the response exactly like this:
` + "```%s\n// Your code here\n```" + `

Time Complexity: O(?)
Space Complexity: O(?)`

const askTemplate = `Help me with this specific programming question.

Problem: %s
Description: %s
Language: %s
Question: %s

Provide a direct, practical answer with code examples if relevant.`

const refusalTemplate = `I am designed to help specifically with programming questions and coding problems. I cannot provide assistance with %s.

Please ask me questions about:
- The current coding problem
- Programming concepts
- Code debugging
- Algorithm assistance
- Data structures
- Programming best practices`

var programmingKeywords = []string{
	"code", "program", "function", "algorithm", "debug", "error",
	"variable", "array", "object", "class", "method", "loop",
	"syntax", "compile", "runtime", "api", "database", "framework",
	"library", "bug", "exception", "interface", "implementation",
	"optimization", "complexity", "data structure",
}

var questionPhrases = []string{"how to", "why does", "what is", "explain"}

// IsProgrammingRelated classifies free-text input with a case-insensitive
// substring check against a fixed keyword set and common question phrasings.
func IsProgrammingRelated(text string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range programmingKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	for _, phrase := range questionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Build produces the prompt for userText under mode. When ok is false the
// returned string is a locally-synthesized refusal to be shown as the
// assistant's reply; no model call should be made.
//
// Hint and solve ignore userText entirely: those modes synthesize their own
// instruction text, so empty input is valid for them.
func Build(userText string, mode Mode, ctx store.ProblemContext) (text string, ok bool) {
	switch mode {
	case ModeHint:
		return fmt.Sprintf(hintTemplate, ctx.Title, ctx.Description), true
	case ModeSolve:
		return fmt.Sprintf(solveTemplate, ctx.Title, ctx.Description, ctx.SelectedLanguage, ctx.SelectedLanguage), true
	default:
		if !IsProgrammingRelated(userText) {
			return fmt.Sprintf(refusalTemplate, userText), false
		}
		return fmt.Sprintf(askTemplate, ctx.Title, ctx.Description, ctx.SelectedLanguage, userText), true
	}
}
