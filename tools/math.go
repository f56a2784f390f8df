package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/Knetic/govaluate"
	"gonum.org/v1/gonum/stat"

	"github.com/taipm/llmgateway/toolregistry"
)

// NewMathTool builds a "math" tool covering expression evaluation
// (govaluate), descriptive statistics (gonum/stat), linear equation
// solving, unit conversion, and random generation.
func NewMathTool() *toolregistry.Tool {
	tool := toolregistry.NewTool("math", "Perform mathematical operations: expression evaluation, statistics, equation solving, unit conversion, random generation").
		AddParameter("operation", map[string]any{"type": "string", "description": "evaluate, statistics, solve, convert, random"}, true).
		AddParameter("expression", map[string]any{"type": "string", "description": "Math expression for evaluate, e.g. '2 * (3 + 4) + sqrt(16)'"}, false).
		AddParameter("numbers", map[string]any{"type": "array", "items": map[string]any{"type": "number"}}, false).
		AddParameter("stat_type", map[string]any{"type": "string", "description": "mean, median, stdev, variance, min, max, sum"}, false).
		AddParameter("equation", map[string]any{"type": "string", "description": "e.g. 'x+5=10'"}, false).
		AddParameter("value", map[string]any{"type": "number"}, false).
		AddParameter("from_unit", map[string]any{"type": "string"}, false).
		AddParameter("to_unit", map[string]any{"type": "string"}, false).
		AddParameter("random_type", map[string]any{"type": "string", "description": "integer, float, choice"}, false).
		AddParameter("min", map[string]any{"type": "number"}, false).
		AddParameter("max", map[string]any{"type": "number"}, false).
		AddParameter("choices", map[string]any{"type": "array", "items": map[string]any{"type": "string"}}, false)

	return tool.WithHandler(mathHandler)
}

func mathHandler(args string) (string, error) {
	var params struct {
		Operation  string    `json:"operation"`
		Expression string    `json:"expression"`
		Numbers    []float64 `json:"numbers"`
		StatType   string    `json:"stat_type"`
		Equation   string    `json:"equation"`
		Value      float64   `json:"value"`
		FromUnit   string    `json:"from_unit"`
		ToUnit     string    `json:"to_unit"`
		RandomType string    `json:"random_type"`
		Min        float64   `json:"min"`
		Max        float64   `json:"max"`
		Choices    []string  `json:"choices"`
	}

	if err := json.Unmarshal([]byte(args), &params); err != nil {
		return "", fmt.Errorf("%w: invalid JSON parameters", ErrInvalidInput)
	}

	switch params.Operation {
	case "evaluate":
		return mathEvaluate(params.Expression)
	case "statistics":
		return mathStatistics(params.Numbers, params.StatType)
	case "solve":
		return mathSolve(params.Equation)
	case "convert":
		return mathConvert(params.Value, params.FromUnit, params.ToUnit)
	case "random":
		return mathRandom(params.RandomType, params.Min, params.Max, params.Choices)
	default:
		return "", fmt.Errorf("%w: unknown operation %q", ErrInvalidInput, params.Operation)
	}
}

func mathEvaluate(expression string) (string, error) {
	if expression == "" {
		return "", fmt.Errorf("%w: expression is required", ErrInvalidInput)
	}

	expr, err := govaluate.NewEvaluableExpressionWithFunctions(expression, map[string]govaluate.ExpressionFunction{
		"sqrt":  func(a ...interface{}) (interface{}, error) { return math.Sqrt(a[0].(float64)), nil },
		"pow":   func(a ...interface{}) (interface{}, error) { return math.Pow(a[0].(float64), a[1].(float64)), nil },
		"sin":   func(a ...interface{}) (interface{}, error) { return math.Sin(a[0].(float64)), nil },
		"cos":   func(a ...interface{}) (interface{}, error) { return math.Cos(a[0].(float64)), nil },
		"tan":   func(a ...interface{}) (interface{}, error) { return math.Tan(a[0].(float64)), nil },
		"log":   func(a ...interface{}) (interface{}, error) { return math.Log10(a[0].(float64)), nil },
		"ln":    func(a ...interface{}) (interface{}, error) { return math.Log(a[0].(float64)), nil },
		"abs":   func(a ...interface{}) (interface{}, error) { return math.Abs(a[0].(float64)), nil },
		"ceil":  func(a ...interface{}) (interface{}, error) { return math.Ceil(a[0].(float64)), nil },
		"floor": func(a ...interface{}) (interface{}, error) { return math.Floor(a[0].(float64)), nil },
		"round": func(a ...interface{}) (interface{}, error) { return math.Round(a[0].(float64)), nil },
	})
	if err != nil {
		return "", fmt.Errorf("%w: invalid expression: %v", ErrInvalidInput, err)
	}

	result, err := expr.Evaluate(nil)
	if err != nil {
		return "", fmt.Errorf("%w: evaluation failed: %v", ErrOperationFailed, err)
	}

	switch v := result.(type) {
	case float64:
		return fmt.Sprintf("%.6f", v), nil
	case int:
		return fmt.Sprintf("%.6f", float64(v)), nil
	default:
		return "", fmt.Errorf("%w: unexpected result type %T", ErrOperationFailed, result)
	}
}

func mathStatistics(numbers []float64, statType string) (string, error) {
	if len(numbers) == 0 {
		return "", fmt.Errorf("%w: numbers array is required", ErrInvalidInput)
	}
	if statType == "" {
		return "", fmt.Errorf("%w: stat_type is required", ErrInvalidInput)
	}

	var result float64
	switch statType {
	case "mean":
		result = stat.Mean(numbers, nil)
	case "median":
		sorted := append([]float64(nil), numbers...)
		result = median(sorted)
	case "stdev":
		result = stat.StdDev(numbers, nil)
	case "variance":
		result = stat.Variance(numbers, nil)
	case "min":
		result = minOf(numbers)
	case "max":
		result = maxOf(numbers)
	case "sum":
		for _, n := range numbers {
			result += n
		}
	default:
		return "", fmt.Errorf("%w: unknown stat_type %q", ErrInvalidInput, statType)
	}

	return fmt.Sprintf("%.6f", result), nil
}

func median(numbers []float64) float64 {
	n := len(numbers)
	if n == 0 {
		return 0
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if numbers[i] > numbers[j] {
				numbers[i], numbers[j] = numbers[j], numbers[i]
			}
		}
	}
	if n%2 == 0 {
		return (numbers[n/2-1] + numbers[n/2]) / 2
	}
	return numbers[n/2]
}

func minOf(numbers []float64) float64 {
	m := numbers[0]
	for _, n := range numbers {
		if n < m {
			m = n
		}
	}
	return m
}

func maxOf(numbers []float64) float64 {
	m := numbers[0]
	for _, n := range numbers {
		if n > m {
			m = n
		}
	}
	return m
}

func mathSolve(equation string) (string, error) {
	if equation == "" {
		return "", fmt.Errorf("%w: equation is required", ErrInvalidInput)
	}

	parts := strings.Split(equation, "=")
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: equation must contain '='", ErrInvalidInput)
	}

	left := strings.ReplaceAll(strings.TrimSpace(parts[0]), " ", "")
	right := strings.TrimSpace(parts[1])

	if strings.Contains(left, "x^2") {
		return "", fmt.Errorf("%w: quadratic solver not yet implemented", ErrOperationFailed)
	}

	rightVal, err := strconv.ParseFloat(right, 64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid right side value", ErrInvalidInput)
	}

	switch {
	case left == "x":
		return fmt.Sprintf("x = %.6f", rightVal), nil
	case strings.HasPrefix(left, "x+"):
		b, _ := strconv.ParseFloat(left[2:], 64)
		return fmt.Sprintf("x = %.6f", rightVal-b), nil
	case strings.HasPrefix(left, "x-"):
		b, _ := strconv.ParseFloat(left[2:], 64)
		return fmt.Sprintf("x = %.6f", rightVal+b), nil
	default:
		return "", fmt.Errorf("%w: unsupported linear equation format", ErrInvalidInput)
	}
}

func mathConvert(value float64, fromUnit, toUnit string) (string, error) {
	if fromUnit == "" || toUnit == "" {
		return "", fmt.Errorf("%w: from_unit and to_unit are required", ErrInvalidInput)
	}
	fromUnit, toUnit = strings.ToLower(fromUnit), strings.ToLower(toUnit)

	if fromUnit == "celsius" && toUnit == "fahrenheit" {
		return fmt.Sprintf("%.6f %s", (value*9/5)+32, toUnit), nil
	}
	if fromUnit == "fahrenheit" && toUnit == "celsius" {
		return fmt.Sprintf("%.6f %s", (value-32)*5/9, toUnit), nil
	}

	unitGroups := []map[string]float64{
		{"km": 1000, "m": 1, "cm": 0.01, "mm": 0.001},
		{"kg": 1000, "g": 1, "mg": 0.001},
		{"hours": 3600, "minutes": 60, "seconds": 1},
	}
	for _, units := range unitGroups {
		fromFactor, fromOK := units[fromUnit]
		toFactor, toOK := units[toUnit]
		if fromOK && toOK {
			return fmt.Sprintf("%.6f %s", (value*fromFactor)/toFactor, toUnit), nil
		}
	}

	return "", fmt.Errorf("%w: unsupported unit conversion from %q to %q", ErrInvalidInput, fromUnit, toUnit)
}

func mathRandom(randomType string, minVal, maxVal float64, choices []string) (string, error) {
	if randomType == "" {
		return "", fmt.Errorf("%w: random_type is required", ErrInvalidInput)
	}
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	switch randomType {
	case "integer":
		if minVal >= maxVal {
			return "", fmt.Errorf("%w: min must be less than max", ErrInvalidInput)
		}
		return fmt.Sprintf("%d", int(minVal)+r.Intn(int(maxVal-minVal+1))), nil
	case "float":
		if minVal >= maxVal {
			return "", fmt.Errorf("%w: min must be less than max", ErrInvalidInput)
		}
		return fmt.Sprintf("%.6f", minVal+r.Float64()*(maxVal-minVal)), nil
	case "choice":
		if len(choices) == 0 {
			return "", fmt.Errorf("%w: choices array is required", ErrInvalidInput)
		}
		return choices[r.Intn(len(choices))], nil
	default:
		return "", fmt.Errorf("%w: unknown random_type %q", ErrInvalidInput, randomType)
	}
}
