package guideline

import (
	"errors"
	"math"

	"github.com/Knetic/govaluate"
)

var errArgs = errors.New("numeric arguments required")

// Functions available to rule expressions
var Functions = map[string]govaluate.ExpressionFunction{
	"min": func(args ...any) (any, error) {
		return reduce(args, math.Min)
	},
	"max": func(args ...any) (any, error) {
		return reduce(args, math.Max)
	},
	"abs": func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, errArgs
		}
		v, ok := args[0].(float64)
		if !ok {
			return nil, errArgs
		}
		return math.Abs(v), nil
	},
	// pct returns part as a percentage of whole, 0 when whole is 0
	"pct": func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, errArgs
		}
		part, ok1 := args[0].(float64)
		whole, ok2 := args[1].(float64)
		if !ok1 || !ok2 {
			return nil, errArgs
		}
		if whole == 0 {
			return 0.0, nil
		}
		return part / whole * 100, nil
	},
}

func reduce(args []any, fn func(a, b float64) float64) (any, error) {
	if len(args) == 0 {
		return nil, errArgs
	}
	ret, ok := args[0].(float64)
	if !ok {
		return nil, errArgs
	}
	for _, arg := range args[1:] {
		v, ok := arg.(float64)
		if !ok {
			return nil, errArgs
		}
		ret = fn(ret, v)
	}
	return ret, nil
}
