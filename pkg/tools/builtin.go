package tools

import (
	"context"
	"fmt"
	"strings"
)

// RegisterBuiltins registers the stock tool set: three safe in-process tools
// and two unsafe sandbox-only Python runners.
func RegisterBuiltins(r *Registry) error {
	builtins := []ToolSpec{
		{
			Name:        "echo",
			Description: "Echo user input",
			Safe:        true,
			Params:      []ParamSpec{{Name: "message", Required: true}},
			Handler:     echoHandler,
		},
		{
			Name:        "safe_calc",
			Description: "Safely evaluate arithmetic expressions",
			Safe:        true,
			Params:      []ParamSpec{{Name: "expression", Required: true}},
			Handler:     safeCalcHandler,
		},
		{
			Name:        "summarize_text",
			Description: "Summarize text locally without an LLM",
			Safe:        true,
			Params: []ParamSpec{
				{Name: "text", Required: true},
				{Name: "max_sentences"},
			},
			Handler: summarizeHandler,
		},
		{
			Name:            "python_eval",
			Description:     "Evaluate Python expressions inside a locked-down sandbox",
			Safe:            false,
			RequiresSandbox: true,
			SandboxCommand:  []string{"python", "/tools/python_eval.py"},
			Params:          []ParamSpec{{Name: "expression", Required: true}},
		},
		{
			Name:            "python_exec",
			Description:     "Execute multi-line Python scripts inside a locked-down sandbox",
			Safe:            false,
			RequiresSandbox: true,
			SandboxCommand:  []string{"python", "/tools/python_exec.py"},
			Params:          []ParamSpec{{Name: "code", Required: true}},
		},
	}
	for _, spec := range builtins {
		if err := r.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func stringArg(args map[string]any, key string) (string, error) {
	value, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", key)
	}
	return s, nil
}

func echoHandler(_ context.Context, args map[string]any) (any, error) {
	message, err := stringArg(args, "message")
	if err != nil {
		return nil, err
	}
	return "Echo: " + message, nil
}

func safeCalcHandler(_ context.Context, args map[string]any) (any, error) {
	expression, err := stringArg(args, "expression")
	if err != nil {
		return nil, err
	}
	value, err := EvalArithmetic(expression)
	if err != nil {
		return nil, err
	}
	return value, nil
}

func summarizeHandler(_ context.Context, args map[string]any) (any, error) {
	text, err := stringArg(args, "text")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is required")
	}

	maxSentences := 3
	if raw, ok := args["max_sentences"]; ok {
		switch v := raw.(type) {
		case int:
			maxSentences = v
		case float64:
			maxSentences = int(v)
		default:
			return nil, fmt.Errorf("max_sentences must be a number")
		}
	}
	if maxSentences <= 0 {
		return nil, fmt.Errorf("max_sentences must be > 0")
	}

	normalized := strings.Join(strings.Fields(text), " ")
	var sentences []string
	for _, s := range strings.Split(normalized, ".") {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	kept := sentences
	if len(kept) > maxSentences {
		kept = kept[:maxSentences]
	}
	summary := strings.Join(kept, ". ")
	if summary != "" && !strings.HasSuffix(summary, ".") {
		summary += "."
	}
	return map[string]any{
		"summary":   summary,
		"sentences": len(kept),
	}, nil
}
