// Package render turns raw schema templates into deployable definition text,
// resolving references and recording dependency edges as it goes.
package render

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"schemaplan/internal/domain"
)

// Env is the variable environment a template renders against.
type Env map[string]any

// Render expands a template: `{{ expr }}` substitution plus
// `{% if %}/{% else %}/{% endif %}` and `{% for x in seq %}/{% endfor %}`
// control flow. Tags support Jinja-style whitespace trimming with `{%-` and
// `-%}`. Rendering performs no I/O; all side effects happen through
// callables installed in the environment.
func Render(input string, env Env) (string, error) {
	nodes, rest, err := parseNodes(input, "")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(rest) != "" {
		return "", fmt.Errorf("unexpected %q outside any block", firstTag(rest))
	}

	var out strings.Builder
	if err := renderNodes(&out, nodes, env); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

type node interface{}

type textNode struct{ text string }

type exprNode struct{ expr string }

type ifNode struct {
	cond string
	body []node
	els  []node
}

type forNode struct {
	varName string
	iter    string
	body    []node
}

// parseNodes consumes input until it hits one of the closing directives the
// caller expects (else/endif/endfor), returning the parsed nodes and the
// unconsumed remainder starting at that directive.
func parseNodes(input, closing string) ([]node, string, error) {
	var nodes []node
	for len(input) > 0 {
		exprIdx := strings.Index(input, "{{")
		tagIdx := strings.Index(input, "{%")

		if exprIdx < 0 && tagIdx < 0 {
			nodes = append(nodes, textNode{text: input})
			return nodes, "", nil
		}

		if exprIdx >= 0 && (tagIdx < 0 || exprIdx < tagIdx) {
			nodes = append(nodes, textNode{text: input[:exprIdx]})
			end := strings.Index(input[exprIdx:], "}}")
			if end < 0 {
				return nil, "", fmt.Errorf("unterminated expression tag")
			}
			nodes = append(nodes, exprNode{expr: strings.TrimSpace(input[exprIdx+2 : exprIdx+end])})
			input = input[exprIdx+end+2:]
			continue
		}

		text := input[:tagIdx]
		directive, rest, trimBefore, err := readTag(input[tagIdx:])
		if err != nil {
			return nil, "", err
		}
		if trimBefore {
			text = strings.TrimRight(text, " \t\n\r")
		}
		nodes = append(nodes, textNode{text: text})

		switch {
		case directive == closing || (closing != "" && isAltClosing(directive, closing)):
			return nodes, input[tagIdx:], nil
		case strings.HasPrefix(directive, "if "):
			n, remaining, err := parseIf(strings.TrimSpace(strings.TrimPrefix(directive, "if ")), rest)
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, n)
			input = remaining
		case strings.HasPrefix(directive, "for "):
			n, remaining, err := parseFor(strings.TrimSpace(strings.TrimPrefix(directive, "for ")), rest)
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, n)
			input = remaining
		case directive == "else" || directive == "endif" || directive == "endfor":
			return nil, "", fmt.Errorf("unexpected %%%s%% without matching block", directive)
		default:
			return nil, "", fmt.Errorf("unsupported control tag %q", directive)
		}
	}
	if closing != "" {
		return nil, "", fmt.Errorf("unterminated block, expected %s", closing)
	}
	return nodes, "", nil
}

// isAltClosing lets an if block close at either else or endif.
func isAltClosing(directive, closing string) bool {
	return closing == "else" && directive == "endif"
}

func parseIf(cond, rest string) (node, string, error) {
	body, remaining, err := parseNodes(rest, "else")
	if err != nil {
		return nil, "", err
	}
	directive, rest2, _, err := readTag(remaining)
	if err != nil {
		return nil, "", err
	}
	n := ifNode{cond: cond, body: body}
	if directive == "else" {
		n.els, remaining, err = parseNodes(rest2, "endif")
		if err != nil {
			return nil, "", err
		}
		if _, rest2, _, err = readTag(remaining); err != nil {
			return nil, "", err
		}
	}
	return n, rest2, nil
}

func parseFor(header, rest string) (node, string, error) {
	varName, iter, ok := strings.Cut(header, " in ")
	if !ok {
		return nil, "", fmt.Errorf("malformed for tag %q, expected 'for <var> in <expr>'", header)
	}
	body, remaining, err := parseNodes(rest, "endfor")
	if err != nil {
		return nil, "", err
	}
	_, rest2, _, err := readTag(remaining)
	if err != nil {
		return nil, "", err
	}
	return forNode{varName: strings.TrimSpace(varName), iter: strings.TrimSpace(iter), body: body}, rest2, nil
}

// readTag consumes one {% ... %} tag at the start of input, handling the
// {%- and -%} trim markers. Returns the directive, the remaining input
// (whitespace-trimmed when -%} was used), and whether preceding text should
// be trimmed.
func readTag(input string) (directive, rest string, trimBefore bool, err error) {
	if !strings.HasPrefix(input, "{%") {
		return "", "", false, fmt.Errorf("expected control tag, got %q", firstTag(input))
	}
	end := strings.Index(input, "%}")
	if end < 0 {
		return "", "", false, fmt.Errorf("unterminated control tag")
	}
	inner := input[2:end]
	rest = input[end+2:]

	if strings.HasPrefix(inner, "-") {
		trimBefore = true
		inner = inner[1:]
	}
	if strings.HasSuffix(inner, "-") {
		inner = inner[:len(inner)-1]
		rest = strings.TrimLeft(rest, " \t\n\r")
	}
	return strings.TrimSpace(inner), rest, trimBefore, nil
}

func firstTag(s string) string {
	if len(s) > 24 {
		return s[:24]
	}
	return s
}

func renderNodes(out *strings.Builder, nodes []node, env Env) error {
	for _, n := range nodes {
		switch n := n.(type) {
		case textNode:
			out.WriteString(n.text)
		case exprNode:
			v, err := evalExpr(n.expr, env)
			if err != nil {
				return err
			}
			out.WriteString(stringify(v))
		case ifNode:
			v, err := evalCondition(n.cond, env)
			if err != nil {
				return err
			}
			body := n.body
			if !v {
				body = n.els
			}
			if err := renderNodes(out, body, env); err != nil {
				return err
			}
		case forNode:
			items, err := evalIterable(n.iter, env)
			if err != nil {
				return err
			}
			scoped := make(Env, len(env)+1)
			for k, v := range env {
				scoped[k] = v
			}
			for _, item := range items {
				scoped[n.varName] = item
				if err := renderNodes(out, n.body, scoped); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// evalExpr evaluates a template expression: a quoted string, an integer or
// boolean literal, a dotted variable path, or a function call whose callee
// resolves to a domain.Callable.
func evalExpr(expr string, env Env) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}

	if lit, ok, err := parseStringLiteral(expr); ok || err != nil {
		return lit, err
	}
	if expr == "true" {
		return true, nil
	}
	if expr == "false" {
		return false, nil
	}
	if n, err := strconv.Atoi(expr); err == nil {
		return n, nil
	}

	if name, args, ok, err := parseCall(expr); err != nil {
		return nil, err
	} else if ok {
		callee, err := resolvePath(name, env)
		if err != nil {
			return nil, err
		}
		fn, ok := callee.(domain.Callable)
		if !ok {
			return nil, fmt.Errorf("%q is not callable", name)
		}
		argValues := make([]any, len(args))
		for i, arg := range args {
			v, err := evalExpr(arg, env)
			if err != nil {
				return nil, err
			}
			argValues[i] = v
		}
		return fn(argValues)
	}

	return resolvePath(expr, env)
}

func evalCondition(expr string, env Env) (bool, error) {
	expr = strings.TrimSpace(expr)
	if rest, ok := strings.CutPrefix(expr, "not "); ok {
		v, err := evalCondition(rest, env)
		return !v, err
	}
	v, err := evalExpr(expr, env)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case []any:
		return len(v) > 0
	default:
		return true
	}
}

// evalIterable normalizes a for-loop target. Maps iterate over their values
// in key order so loops stay deterministic.
func evalIterable(expr string, env Env) ([]any, error) {
	v, err := evalExpr(expr, env)
	if err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case []any:
		return v, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = v[k]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot iterate over %T", v)
	}
}

// resolvePath resolves a dotted identifier chain against the environment.
func resolvePath(path string, env Env) (any, error) {
	parts := strings.Split(path, ".")
	for _, part := range parts {
		if !validIdent(part) {
			return nil, fmt.Errorf("invalid identifier %q in %q", part, path)
		}
	}

	v, ok := env[parts[0]]
	if !ok {
		return nil, fmt.Errorf("undefined variable %q", parts[0])
	}
	for _, part := range parts[1:] {
		switch cur := v.(type) {
		case domain.Attributer:
			attr, ok := cur.TemplateAttr(part)
			if !ok {
				return nil, fmt.Errorf("%q has no attribute %q", path, part)
			}
			v = attr
		case map[string]any:
			attr, ok := cur[part]
			if !ok {
				return nil, fmt.Errorf("%q has no attribute %q", path, part)
			}
			v = attr
		default:
			return nil, fmt.Errorf("cannot access attribute %q on %T", part, cur)
		}
	}
	return v, nil
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// parseCall recognizes name(args...) where name is a dotted path.
func parseCall(expr string) (name string, args []string, ok bool, err error) {
	open := strings.IndexByte(expr, '(')
	if open <= 0 || !strings.HasSuffix(expr, ")") {
		return "", nil, false, nil
	}
	name = strings.TrimSpace(expr[:open])
	for _, part := range strings.Split(name, ".") {
		if !validIdent(part) {
			return "", nil, false, nil
		}
	}
	args, err = splitArgs(expr[open+1 : len(expr)-1])
	if err != nil {
		return "", nil, false, err
	}
	return name, args, true, nil
}

// splitArgs splits a call argument list on commas outside string literals.
func splitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var args []string
	start := 0
	inSingle := false
	inDouble := false
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '(':
			if !inSingle && !inDouble {
				depth++
			}
		case ')':
			if !inSingle && !inDouble {
				depth--
			}
		case ',':
			if !inSingle && !inDouble && depth == 0 {
				args = append(args, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if inSingle || inDouble {
		return nil, fmt.Errorf("unterminated string literal in arguments")
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses in arguments")
	}
	args = append(args, strings.TrimSpace(s[start:]))
	for _, a := range args {
		if a == "" {
			return nil, fmt.Errorf("empty argument in call")
		}
	}
	return args, nil
}

func parseStringLiteral(expr string) (string, bool, error) {
	if len(expr) < 2 {
		return "", false, nil
	}
	quote := expr[0]
	if quote != '\'' && quote != '"' {
		return "", false, nil
	}
	if expr[len(expr)-1] != quote {
		return "", false, fmt.Errorf("unterminated string literal %q", expr)
	}
	return expr[1 : len(expr)-1], true, nil
}

func stringify(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
