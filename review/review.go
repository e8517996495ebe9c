// Package review ships the demonstration code-review toolset: five tools
// that take Python source from the "code" state key through extraction,
// scoring, linting, and suggestion passes, plus the workflow graph wiring
// them together.
//
// The quality gate at the end of the graph loops the run back to the
// suggestion node while the computed quality score sits below the
// threshold carried in the state. The score depends only on the extracted
// findings, so a below-threshold run keeps looping until its step budget
// ends it; the gate halts the run otherwise.
package review

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/loomwork/loom/graph"
	"github.com/loomwork/loom/state"
	"github.com/loomwork/loom/tools"
)

// GraphName is the name the demonstration graph registers under.
const GraphName = "code_review"

const (
	toolExtractFunctions   = "extract_functions"
	toolCheckComplexity    = "check_complexity"
	toolDetectBasicIssues  = "detect_basic_issues"
	toolSuggestImprovement = "suggest_improvements"
	toolQualityGate        = "quality_gate"
)

const (
	// defaultThreshold applies when the state carries no "threshold" key.
	defaultThreshold = 0.8
	// complexityLimit is the score above which a function counts as complex.
	complexityLimit = 15
	// longFileLines is the line count above which the file is flagged.
	longFileLines = 200
)

// Register adds the five review tools to the registry.
func Register(reg *tools.Registry) {
	reg.Register(toolExtractFunctions, extractFunctions, "Extract function names from Python source code.")
	reg.Register(toolCheckComplexity, checkComplexity, "Score each extracted function by name length and underscores.")
	reg.Register(toolDetectBasicIssues, detectBasicIssues, "Detect simple style issues in the source code.")
	reg.Register(toolSuggestImprovement, suggestImprovements, "Turn findings into improvement suggestions.")
	reg.Register(toolQualityGate, qualityGate, "Compute a quality score and decide whether to loop.")
}

// GraphDefinition returns the five-node review graph. Node ids equal tool
// names; the flow is linear with the quality gate terminal unless it
// overrides the edge.
func GraphDefinition() *graph.Definition {
	return &graph.Definition{
		Name:      GraphName,
		StartNode: toolExtractFunctions,
		Nodes: map[string]string{
			toolExtractFunctions:   toolExtractFunctions,
			toolCheckComplexity:    toolCheckComplexity,
			toolDetectBasicIssues:  toolDetectBasicIssues,
			toolSuggestImprovement: toolSuggestImprovement,
			toolQualityGate:        toolQualityGate,
		},
		Edges: map[string]string{
			toolExtractFunctions:   toolCheckComplexity,
			toolCheckComplexity:    toolDetectBasicIssues,
			toolDetectBasicIssues:  toolSuggestImprovement,
			toolSuggestImprovement: toolQualityGate,
			toolQualityGate:        "",
		},
	}
}

// extractFunctions treats any line starting with "def " and containing "("
// as a function declaration and records the names in declaration order.
func extractFunctions(_ context.Context, doc state.Document) (tools.Result, error) {
	code, _ := doc["code"].(string)
	var functions []any
	for _, line := range strings.Split(code, "\n") {
		stripped := strings.TrimSpace(line)
		if !strings.HasPrefix(stripped, "def ") {
			continue
		}
		open := strings.Index(stripped, "(")
		if open < 0 {
			continue
		}
		name := strings.TrimSpace(stripped[4:open])
		if name != "" {
			functions = append(functions, name)
		}
	}
	if functions == nil {
		functions = []any{}
	}
	doc["functions"] = functions
	metadata(doc)["num_functions"] = len(functions)
	return tools.Result{State: doc}, nil
}

// checkComplexity scores each function as name length plus an underscore
// penalty, standing in for a real cyclomatic measure.
func checkComplexity(_ context.Context, doc state.Document) (tools.Result, error) {
	scores := make(map[string]any)
	for _, name := range functionNames(doc) {
		scores[name] = len(name) + strings.Count(name, "_")
	}
	doc["complexity"] = scores
	return tools.Result{State: doc}, nil
}

// detectBasicIssues runs rule-based lint checks over the raw source code.
func detectBasicIssues(_ context.Context, doc state.Document) (tools.Result, error) {
	code, _ := doc["code"].(string)
	issues := []any{}
	if strings.Contains(code, "\t") {
		issues = append(issues, "Tabs found; prefer spaces for indentation.")
	}
	if strings.Contains(code, "print(") {
		issues = append(issues, "Debug prints found; consider using a logger.")
	}
	if strings.Contains(code, "TODO") {
		issues = append(issues, "TODO comments found; make sure they are resolved.")
	}
	if len(strings.Split(code, "\n")) > longFileLines {
		issues = append(issues, "File is quite long; consider splitting into modules.")
	}
	doc["issues"] = issues
	return tools.Result{State: doc}, nil
}

// suggestImprovements appends suggestions derived from the complexity
// scores, the detected issues, and a docstring reminder per function, and
// bumps the revision counter. Repeat visits append again.
func suggestImprovements(_ context.Context, doc state.Document) (tools.Result, error) {
	suggestions, _ := doc["suggestions"].([]any)
	if suggestions == nil {
		suggestions = []any{}
	}
	for _, name := range complexFunctionNames(doc) {
		score := functionScores(doc)[name]
		suggestions = append(suggestions, fmt.Sprintf(
			"Function '%s' looks complex (score=%d). Consider refactoring into smaller helpers.", name, score))
	}
	for _, issue := range stringValues(doc["issues"]) {
		suggestions = append(suggestions, "Address issue: "+issue)
	}
	for _, name := range functionNames(doc) {
		suggestions = append(suggestions, fmt.Sprintf(
			"Ensure '%s' has a clear docstring explaining inputs and outputs.", name))
	}
	doc["suggestions"] = suggestions
	revisions, _ := doc["revisions"].(int)
	doc["revisions"] = revisions + 1
	return tools.Result{State: doc}, nil
}

// qualityGate computes the quality score, records it, and decides routing:
// below the threshold it loops the run back to the suggestion node,
// otherwise it halts.
//
// Score: start from 1.0, subtract 0.1 per complex function and 0.15 per
// issue, clamp to [0, 1], round to 3 decimals.
func qualityGate(_ context.Context, doc state.Document) (tools.Result, error) {
	threshold := defaultThreshold
	if v, ok := asFloat(doc["threshold"]); ok {
		threshold = v
	}

	complexFns := complexFunctionNames(doc)
	issues := stringValues(doc["issues"])

	score := 1.0 - 0.1*float64(len(complexFns)) - 0.15*float64(len(issues))
	score = math.Max(0, math.Min(1, score))
	score = math.Round(score*1000) / 1000

	doc["quality_score"] = score
	names := make([]any, len(complexFns))
	for i, name := range complexFns {
		names[i] = name
	}
	metadata(doc)["complex_functions"] = names

	if score < threshold {
		return tools.Result{State: doc, Next: tools.Goto(toolSuggestImprovement)}, nil
	}
	return tools.Result{State: doc, Next: tools.Halt()}, nil
}

// metadata returns the document's metadata map, creating it when absent.
func metadata(doc state.Document) map[string]any {
	if m, ok := doc["metadata"].(map[string]any); ok {
		return m
	}
	m := make(map[string]any)
	doc["metadata"] = m
	return m
}

// functionNames returns the extracted function names in declaration order.
func functionNames(doc state.Document) []string {
	return stringValues(doc["functions"])
}

// functionScores returns the complexity score per function name.
func functionScores(doc state.Document) map[string]int {
	scores := make(map[string]int)
	raw, _ := doc["complexity"].(map[string]any)
	for name, v := range raw {
		switch n := v.(type) {
		case int:
			scores[name] = n
		case float64:
			scores[name] = int(n)
		}
	}
	return scores
}

// complexFunctionNames returns, in declaration order, the functions whose
// score exceeds the complexity limit.
func complexFunctionNames(doc state.Document) []string {
	scores := functionScores(doc)
	var names []string
	for _, name := range functionNames(doc) {
		if scores[name] > complexityLimit {
			names = append(names, name)
		}
	}
	return names
}

// stringValues extracts the string elements of a []any state value.
func stringValues(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// asFloat reads a numeric state value. JSON decoding yields float64;
// in-process callers may store ints.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
