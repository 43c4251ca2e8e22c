package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// DirectiveAction discriminates the two thinker instructions.
type DirectiveAction string

const (
	ActionExecute DirectiveAction = "execute"
	ActionFinish  DirectiveAction = "finish"
)

// TaskSpec is one task requested by an execute directive.
type TaskSpec struct {
	ID    string `json:"id"`
	Task  string `json:"task"`
	Agent string `json:"agent,omitempty"`
}

// Directive is a parsed thinker instruction: a batch of tasks to dispatch in
// parallel, or the final answer.
type Directive struct {
	Action DirectiveAction `json:"action"`
	Tasks  []TaskSpec      `json:"tasks,omitempty"`
	Answer string          `json:"answer,omitempty"`
}

// ParseError means the thinker output could not be interpreted as JSON even
// after salvage.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse thinker output: %s", e.Reason)
}

// ValidationError means the directive is valid JSON but violates the schema.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// RetryPrompt is appended to the context for the single parse-failure
// re-prompt.
const RetryPrompt = "IMPORTANT: Respond with ONLY a JSON object, no other text."

var (
	fenceOpenRe     = regexp.MustCompile("^```(?:json)?\\s*")
	finishActionRe  = regexp.MustCompile(`"action"\s*:\s*"finish"`)
	answerOpenRe    = regexp.MustCompile(`"answer"\s*:\s*"`)
	salvageTrailing = "\"}`\n\r\t "
)

// ParseDirective extracts a directive from raw thinker output. The pipeline
// tries, in order: fence stripping, first-{-to-last-} extraction, and
// truncated-finish salvage. Schema validation follows a successful parse.
func ParseDirective(raw string) (Directive, error) {
	text := strings.TrimSpace(raw)

	// Stage 1: strip markdown fences and parse directly.
	stripped := stripFences(text)
	if d, ok := tryParse(stripped); ok {
		return validate(d)
	}

	// Stage 2: widest brace-delimited substring.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if d, ok := tryParse(text[start : end+1]); ok {
			return validate(d)
		}
	}

	// Stage 3: salvage a finish directive cut off mid-answer.
	if answer, ok := salvageFinish(text); ok {
		return Directive{Action: ActionFinish, Answer: answer}, nil
	}

	if start < 0 {
		return Directive{}, &ParseError{Reason: "no JSON object"}
	}
	return Directive{}, &ParseError{Reason: "invalid JSON"}
}

// stripFences removes a leading ``` or ```json fence and a trailing ```.
func stripFences(s string) string {
	s = fenceOpenRe.ReplaceAllString(s, "")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func tryParse(s string) (Directive, bool) {
	var d Directive
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return Directive{}, false
	}
	return d, true
}

// salvageFinish recovers the answer from a finish directive whose JSON was
// truncated or noise-wrapped. The answer must reach 10 characters to count.
func salvageFinish(text string) (string, bool) {
	if !finishActionRe.MatchString(text) {
		return "", false
	}
	loc := answerOpenRe.FindStringIndex(text)
	if loc == nil {
		return "", false
	}

	answer := text[loc[1]:]
	answer = strings.TrimRight(answer, salvageTrailing)
	answer = strings.ReplaceAll(answer, `\n`, "\n")
	answer = strings.ReplaceAll(answer, `\"`, `"`)
	answer = strings.ReplaceAll(answer, `\\`, `\`)

	if len(answer) < 10 {
		return "", false
	}
	return answer, true
}

// validate checks directive shape after a successful JSON parse.
func validate(d Directive) (Directive, error) {
	switch d.Action {
	case ActionExecute:
		if len(d.Tasks) == 0 {
			return Directive{}, &ValidationError{Reason: "execute directive contains no tasks"}
		}
		for i, t := range d.Tasks {
			if strings.TrimSpace(t.ID) == "" {
				return Directive{}, &ValidationError{Reason: fmt.Sprintf("task %d has no id", i)}
			}
			if strings.TrimSpace(t.Task) == "" {
				return Directive{}, &ValidationError{Reason: fmt.Sprintf("task %q has no task text", t.ID)}
			}
		}
		return d, nil
	case ActionFinish:
		if strings.TrimSpace(d.Answer) == "" {
			return Directive{}, &ValidationError{Reason: "finish directive contains no answer"}
		}
		return d, nil
	default:
		return Directive{}, &ValidationError{Reason: fmt.Sprintf("Unknown orchestrator action: %s", d.Action)}
	}
}
