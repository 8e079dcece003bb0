package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
)

const calculatorDescription = "A calculator that can solve math problems, evaluate arithmetic expressions, " +
	"perform calculations, and handle mathematical operations. Examples: '2+2', 'sin(0.5)*5', 'sqrt(16)', '(7*8)/2'"

// maxExpressionLen bounds the input accepted by the calculator.
const maxExpressionLen = 1024

var calcConstants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

// unaryFunc returns a non-empty violation when x is outside its domain.
type unaryFunc func(x float64) (float64, string)

func total(f func(float64) float64) unaryFunc {
	return func(x float64) (float64, string) { return f(x), "" }
}

func partial(f func(float64) float64, ok func(float64) bool, rule string) unaryFunc {
	return func(x float64) (float64, string) {
		if !ok(x) {
			return 0, rule
		}
		return f(x), ""
	}
}

func unitRange(x float64) bool { return x >= -1 && x <= 1 }

var calcFunctions = map[string]unaryFunc{
	"sin":   total(math.Sin),
	"cos":   total(math.Cos),
	"tan":   total(math.Tan),
	"atan":  total(math.Atan),
	"abs":   total(math.Abs),
	"exp":   total(math.Exp),
	"floor": total(math.Floor),
	"ceil":  total(math.Ceil),
	"round": total(math.Round),
	"asin":  partial(math.Asin, unitRange, "asin requires -1 <= x <= 1"),
	"acos":  partial(math.Acos, unitRange, "acos requires -1 <= x <= 1"),
	"sqrt":  partial(math.Sqrt, func(x float64) bool { return x >= 0 }, "sqrt requires x >= 0"),
	"ln":    partial(math.Log, func(x float64) bool { return x > 0 }, "ln requires x > 0"),
	"log":   partial(math.Log10, func(x float64) bool { return x > 0 }, "log requires x > 0"),
}

// floatLiterals rewrites integer literals into float literals so that all
// arithmetic runs on float64 and cannot wrap around.
type floatLiterals struct{}

func (floatLiterals) Visit(node *ast.Node) {
	if n, ok := (*node).(*ast.IntegerNode); ok {
		ast.Patch(node, &ast.FloatNode{Value: float64(n.Value)})
	}
}

// reIdent matches identifiers not embedded in numeric literals such as 1e5.
var reIdent = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*`)

// Calculator evaluates arithmetic expressions.
type Calculator struct{}

func NewCalculator() *Calculator { return &Calculator{} }

func (c *Calculator) Name() string        { return "calculator" }
func (c *Calculator) Description() string { return calculatorDescription }
func (c *Calculator) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"expression": {
				"type": "string",
				"description": "The mathematical expression to evaluate, e.g. '(5 + 3) * 2 / 4' or 'sqrt(16)'"
			}
		},
		"required": ["expression"]
	}`)
}

func (c *Calculator) Execute(_ context.Context, args map[string]any) (string, error) {
	expression, ok := args["expression"].(string)
	if !ok {
		return "", invalidArgs("expression must be a string")
	}
	v, err := Evaluate(expression)
	if err != nil {
		return "", err
	}
	return FormatNumber(v), nil
}

// Evaluate computes the value of a numeric expression. Supported syntax is
// + - * / % ^ with parentheses, the functions in calcFunctions and the
// constants pi and e. Every number is a float64; % is the floating-point
// remainder with the sign of the dividend. Every failure is a *CalculationError.
func Evaluate(expression string) (float64, error) {
	src := strings.TrimSpace(expression)
	fail := func(kind error, detail string) (float64, error) {
		return 0, &CalculationError{Expression: expression, Kind: kind, Detail: detail}
	}
	if src == "" {
		return fail(ErrSyntax, "empty expression")
	}
	if len(src) > maxExpressionLen {
		return fail(ErrSyntax, fmt.Sprintf("expression longer than %d bytes", maxExpressionLen))
	}
	if name, ok := unknownName(src); ok {
		return fail(ErrUnknownName, name)
	}

	// Failures raised inside function calls are recorded here so their kind
	// survives expr's runtime error wrapping.
	var fnErr *CalculationError
	env := make(map[string]any, len(calcConstants))
	for k, v := range calcConstants {
		env[k] = v
	}
	opts := []expr.Option{
		expr.Env(env),
		expr.DisableAllBuiltins(),
		expr.Patch(floatLiterals{}),
		expr.Function("fmod", func(params ...any) (any, error) {
			a, _ := toFloat(params[0])
			b, _ := toFloat(params[1])
			if b == 0 {
				fnErr = &CalculationError{Expression: expression, Kind: ErrDivisionByZero}
				return nil, fnErr
			}
			return math.Mod(a, b), nil
		}, new(func(float64, float64) float64)),
		expr.Operator("%", "fmod"),
	}
	for name, fn := range calcFunctions {
		opts = append(opts, expr.Function(name, func(params ...any) (any, error) {
			if len(params) != 1 {
				fnErr = &CalculationError{Expression: expression, Kind: ErrSyntax,
					Detail: fmt.Sprintf("%s expects 1 argument, got %d", name, len(params))}
				return nil, fnErr
			}
			x, ok := toFloat(params[0])
			if !ok {
				fnErr = &CalculationError{Expression: expression, Kind: ErrNotNumeric,
					Detail: fmt.Sprintf("%s argument is %T", name, params[0])}
				return nil, fnErr
			}
			out, violation := fn(x)
			if violation != "" {
				fnErr = &CalculationError{Expression: expression, Kind: ErrDomain, Detail: violation}
				return nil, fnErr
			}
			return out, nil
		}, new(func(float64) float64)))
	}

	program, err := expr.Compile(src, opts...)
	if err != nil {
		return fail(ErrSyntax, firstLine(err.Error()))
	}
	out, err := expr.Run(program, env)
	if fnErr != nil {
		return 0, fnErr
	}
	if err != nil {
		msg := firstLine(err.Error())
		if strings.Contains(msg, "divide by zero") || strings.Contains(msg, "division by zero") {
			return fail(ErrDivisionByZero, "")
		}
		return fail(ErrEvaluationError, msg)
	}

	v, ok := toFloat(out)
	if !ok {
		return fail(ErrNotNumeric, fmt.Sprintf("got %T", out))
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		if strings.ContainsAny(src, "/%") {
			return fail(ErrDivisionByZero, "")
		}
		return fail(ErrDomain, "result is not finite")
	}
	return v, nil
}

// FormatNumber renders v with the fewest digits that represent it exactly.
func FormatNumber(v float64) string {
	if v == 0 {
		v = 0 // normalise -0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// unknownName reports the first identifier that is neither a known function
// (when called) nor a known constant.
func unknownName(src string) (string, bool) {
	for _, loc := range reIdent.FindAllStringIndex(src, -1) {
		name := src[loc[0]:loc[1]]
		rest := strings.TrimLeft(src[loc[1]:], " \t")
		if strings.HasPrefix(rest, "(") {
			if _, ok := calcFunctions[name]; !ok {
				return name, true
			}
			continue
		}
		if _, ok := calcConstants[name]; !ok {
			return name, true
		}
	}
	return "", false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
