package condition

import (
	"fmt"
	"unicode/utf8"
)

type builtin func(args []interface{}) (interface{}, error)

// builtins is the complete set of callable functions
var builtins = map[string]builtin{
	"len": fnLen,
	"sum": fnSum,
	"any": fnAny,
	"all": fnAll,
	"min": func(args []interface{}) (interface{}, error) { return extreme("min", args, -1) },
	"max": func(args []interface{}) (interface{}, error) { return extreme("max", args, 1) },
}

func single(name string, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
	}
	return args[0], nil
}

func fnLen(args []interface{}) (interface{}, error) {
	v, err := single("len", args)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return float64(0), nil
	}
	if s, ok := v.(string); ok {
		return float64(utf8.RuneCountInString(s)), nil
	}
	if l, ok := toList(v); ok {
		return float64(len(l)), nil
	}
	if m, ok := toMap(v); ok {
		return float64(len(m)), nil
	}
	return nil, fmt.Errorf("len: unsupported type %T", v)
}

func listArg(name string, args []interface{}) ([]interface{}, error) {
	v, err := single(name, args)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	l, ok := toList(v)
	if !ok {
		return nil, fmt.Errorf("%s expects a list, got %T", name, v)
	}
	return l, nil
}

func fnSum(args []interface{}) (interface{}, error) {
	l, err := listArg("sum", args)
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, item := range l {
		n, ok := toNumber(item)
		if !ok {
			return nil, fmt.Errorf("sum: non-numeric element %T", item)
		}
		total += n
	}
	return total, nil
}

func fnAny(args []interface{}) (interface{}, error) {
	l, err := listArg("any", args)
	if err != nil {
		return nil, err
	}
	for _, item := range l {
		if Truthy(item) {
			return true, nil
		}
	}
	return false, nil
}

func fnAll(args []interface{}) (interface{}, error) {
	l, err := listArg("all", args)
	if err != nil {
		return nil, err
	}
	for _, item := range l {
		if !Truthy(item) {
			return false, nil
		}
	}
	return true, nil
}

// extreme implements min (sign -1) and max (sign 1) over a list or varargs
func extreme(name string, args []interface{}, sign int) (interface{}, error) {
	items := args
	if len(args) == 1 {
		l, ok := toList(args[0])
		if !ok {
			return nil, fmt.Errorf("%s expects a list or several arguments", name)
		}
		items = l
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s of empty sequence", name)
	}

	best := items[0]
	for _, item := range items[1:] {
		c, err := compare(item, best)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if c == sign {
			best = item
		}
	}
	return best, nil
}
