package builtin

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/tesserahq/toolgate/pkg/models"
)

// calculateTool evaluates arithmetic with a shunting-yard parser. Only
// the listed operators and functions exist; there is no free
// evaluation of anything else.
type calculateTool struct{}

func (t *calculateTool) Name() string { return "calculate" }

func (t *calculateTool) Description() string {
	return "Evaluate an arithmetic expression. Supports + - * / % ^, parentheses, unary minus, and sqrt, abs, round, floor, ceil, min, max, pow."
}

func (t *calculateTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"expression": prop("string", "The arithmetic expression, e.g. \"sqrt(2) * (3 + 4)\"."),
	}, "expression")
}

func (t *calculateTool) Execute(_ context.Context, args map[string]any, _ UserContext) *models.BuiltinToolResult {
	expr, ok := stringArg(args, "expression")
	if !ok || strings.TrimSpace(expr) == "" {
		return failf("expression is required")
	}
	value, err := evaluate(expr)
	if err != nil {
		return failf("%v", err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return failf("expression does not evaluate to a finite number")
	}
	return models.BuiltinOK(map[string]any{
		"expression": expr,
		"result":     value,
	})
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokOperator
	tokFunc
	tokLeftParen
	tokRightParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

// unary minus is rewritten to this internal operator during parsing.
const negOp = "neg"

var calcFuncs = map[string]int{
	"sqrt":  1,
	"abs":   1,
	"round": 1,
	"floor": 1,
	"ceil":  1,
	"min":   2,
	"max":   2,
	"pow":   2,
}

func opPrecedence(op string) int {
	switch op {
	case negOp:
		return 4
	case "^":
		return 3
	case "*", "/", "%":
		return 2
	case "+", "-":
		return 1
	}
	return 0
}

func rightAssociative(op string) bool { return op == "^" || op == negOp }

func tokenize(expr string) ([]token, error) {
	var tokens []token
	runes := []rune(expr)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || r == '.':
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			text := string(runes[i:j])
			num, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", text)
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, num: num})
			i = j
		case unicode.IsLetter(r):
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			name := strings.ToLower(string(runes[i:j]))
			if name == "pi" {
				tokens = append(tokens, token{kind: tokNumber, text: name, num: math.Pi})
			} else if name == "e" {
				tokens = append(tokens, token{kind: tokNumber, text: name, num: math.E})
			} else if _, ok := calcFuncs[name]; ok {
				tokens = append(tokens, token{kind: tokFunc, text: name})
			} else {
				return nil, fmt.Errorf("unknown function or constant %q", name)
			}
			i = j
		case r == '(':
			tokens = append(tokens, token{kind: tokLeftParen, text: "("})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRightParen, text: ")"})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokComma, text: ","})
			i++
		case strings.ContainsRune("+-*/%^", r):
			op := string(r)
			if op == "-" && isUnaryPosition(tokens) {
				op = negOp
			}
			tokens = append(tokens, token{kind: tokOperator, text: op})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", string(r))
		}
	}
	return tokens, nil
}

// isUnaryPosition reports whether a minus at the current position
// negates rather than subtracts.
func isUnaryPosition(tokens []token) bool {
	if len(tokens) == 0 {
		return true
	}
	switch prev := tokens[len(tokens)-1]; prev.kind {
	case tokNumber, tokRightParen:
		return false
	default:
		return true
	}
}

// toRPN converts the token stream into reverse Polish order.
func toRPN(tokens []token) ([]token, error) {
	var output []token
	var stack []token
	for _, tok := range tokens {
		switch tok.kind {
		case tokNumber:
			output = append(output, tok)
		case tokFunc, tokLeftParen:
			stack = append(stack, tok)
		case tokComma:
			for len(stack) > 0 && stack[len(stack)-1].kind != tokLeftParen {
				output = append(output, stack[len(stack)-1])
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				return nil, fmt.Errorf("misplaced comma")
			}
		case tokOperator:
			for len(stack) > 0 && stack[len(stack)-1].kind == tokOperator {
				top := stack[len(stack)-1]
				if opPrecedence(top.text) > opPrecedence(tok.text) ||
					(opPrecedence(top.text) == opPrecedence(tok.text) && !rightAssociative(tok.text)) {
					output = append(output, top)
					stack = stack[:len(stack)-1]
					continue
				}
				break
			}
			stack = append(stack, tok)
		case tokRightParen:
			for len(stack) > 0 && stack[len(stack)-1].kind != tokLeftParen {
				output = append(output, stack[len(stack)-1])
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				return nil, fmt.Errorf("unbalanced parentheses")
			}
			stack = stack[:len(stack)-1]
			if len(stack) > 0 && stack[len(stack)-1].kind == tokFunc {
				output = append(output, stack[len(stack)-1])
				stack = stack[:len(stack)-1]
			}
		}
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.kind == tokLeftParen {
			return nil, fmt.Errorf("unbalanced parentheses")
		}
		output = append(output, top)
		stack = stack[:len(stack)-1]
	}
	return output, nil
}

func evaluate(expr string) (float64, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, fmt.Errorf("empty expression")
	}
	rpn, err := toRPN(tokens)
	if err != nil {
		return 0, err
	}

	var stack []float64
	pop := func() (float64, bool) {
		if len(stack) == 0 {
			return 0, false
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, true
	}

	for _, tok := range rpn {
		switch tok.kind {
		case tokNumber:
			stack = append(stack, tok.num)
		case tokOperator:
			if tok.text == negOp {
				v, ok := pop()
				if !ok {
					return 0, fmt.Errorf("malformed expression")
				}
				stack = append(stack, -v)
				continue
			}
			b, okB := pop()
			a, okA := pop()
			if !okA || !okB {
				return 0, fmt.Errorf("malformed expression")
			}
			v, err := applyOperator(tok.text, a, b)
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)
		case tokFunc:
			arity := calcFuncs[tok.text]
			fnArgs := make([]float64, arity)
			for i := arity - 1; i >= 0; i-- {
				v, ok := pop()
				if !ok {
					return 0, fmt.Errorf("%s expects %d argument(s)", tok.text, arity)
				}
				fnArgs[i] = v
			}
			v, err := applyFunc(tok.text, fnArgs)
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)
		}
	}
	if len(stack) != 1 {
		return 0, fmt.Errorf("malformed expression")
	}
	return stack[0], nil
}

func applyOperator(op string, a, b float64) (float64, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return 0, fmt.Errorf("modulo by zero")
		}
		return math.Mod(a, b), nil
	case "^":
		return math.Pow(a, b), nil
	}
	return 0, fmt.Errorf("unknown operator %q", op)
}

func applyFunc(name string, args []float64) (float64, error) {
	switch name {
	case "sqrt":
		if args[0] < 0 {
			return 0, fmt.Errorf("sqrt of negative number")
		}
		return math.Sqrt(args[0]), nil
	case "abs":
		return math.Abs(args[0]), nil
	case "round":
		return math.Round(args[0]), nil
	case "floor":
		return math.Floor(args[0]), nil
	case "ceil":
		return math.Ceil(args[0]), nil
	case "min":
		return math.Min(args[0], args[1]), nil
	case "max":
		return math.Max(args[0], args[1]), nil
	case "pow":
		return math.Pow(args[0], args[1]), nil
	}
	return 0, fmt.Errorf("unknown function %q", name)
}
