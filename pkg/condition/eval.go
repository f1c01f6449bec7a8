package condition

import (
	"fmt"
	"strings"
)

func eval(n node, env map[string]interface{}) (interface{}, error) {
	switch n := n.(type) {
	case *literalNode:
		return n.value, nil

	case *identNode:
		return env[n.name], nil

	case *memberNode:
		target, err := eval(n.target, env)
		if err != nil {
			return nil, err
		}
		if m, ok := toMap(target); ok {
			return m[n.name], nil
		}
		return nil, nil

	case *indexNode:
		target, err := eval(n.target, env)
		if err != nil {
			return nil, err
		}
		idx, err := eval(n.index, env)
		if err != nil {
			return nil, err
		}
		return index(target, idx)

	case *listNode:
		out := make([]interface{}, len(n.items))
		for i, item := range n.items {
			v, err := eval(item, env)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *callNode:
		args := make([]interface{}, len(n.args))
		for i, a := range n.args {
			v, err := eval(a, env)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return n.fn(args)

	case *unaryNode:
		v, err := eval(n.operand, env)
		if err != nil {
			return nil, err
		}
		if n.op == "not" {
			return !Truthy(v), nil
		}
		num, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("cannot negate %T", v)
		}
		return -num, nil

	case *binaryNode:
		return evalBinary(n, env)
	}

	return nil, fmt.Errorf("unknown node %T", n)
}

func index(target, idx interface{}) (interface{}, error) {
	if target == nil {
		return nil, nil
	}
	if key, ok := idx.(string); ok {
		if m, ok := toMap(target); ok {
			return m[key], nil
		}
		return nil, nil
	}
	if i, ok := toNumber(idx); ok {
		l, ok := toList(target)
		if !ok {
			return nil, nil
		}
		pos := int(i)
		if pos < 0 {
			pos += len(l)
		}
		if pos < 0 || pos >= len(l) {
			return nil, nil
		}
		return l[pos], nil
	}
	return nil, fmt.Errorf("invalid index type %T", idx)
}

func evalBinary(n *binaryNode, env map[string]interface{}) (interface{}, error) {
	left, err := eval(n.left, env)
	if err != nil {
		return nil, err
	}

	// short-circuit
	switch n.op {
	case "and":
		if !Truthy(left) {
			return false, nil
		}
		right, err := eval(n.right, env)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	case "or":
		if Truthy(left) {
			return true, nil
		}
		right, err := eval(n.right, env)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	}

	right, err := eval(n.right, env)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "<", "<=", ">", ">=":
		if left == nil || right == nil {
			return false, nil
		}
		c, err := compare(left, right)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case "in":
		return contains(right, left)
	case "+":
		return add(left, right)
	case "-", "*", "/":
		return arith(n.op, left, right)
	}

	return nil, fmt.Errorf("unknown operator %s", n.op)
}

func contains(container, item interface{}) (bool, error) {
	if container == nil {
		return false, nil
	}
	if s, ok := container.(string); ok {
		sub, ok := item.(string)
		if !ok {
			return false, fmt.Errorf("'in <string>' requires a string, got %T", item)
		}
		return strings.Contains(s, sub), nil
	}
	if l, ok := toList(container); ok {
		for _, el := range l {
			if equal(el, item) {
				return true, nil
			}
		}
		return false, nil
	}
	if m, ok := toMap(container); ok {
		key, ok := item.(string)
		if !ok {
			return false, nil
		}
		_, found := m[key]
		return found, nil
	}
	return false, fmt.Errorf("'in' unsupported for %T", container)
}

func add(left, right interface{}) (interface{}, error) {
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return ls + rs, nil
		}
	}
	if ll, ok := toList(left); ok {
		if rl, ok := toList(right); ok {
			return append(append([]interface{}{}, ll...), rl...), nil
		}
	}
	return arith("+", left, right)
}

func arith(op string, left, right interface{}) (interface{}, error) {
	x, ok := toNumber(left)
	if !ok {
		return nil, fmt.Errorf("operator %s: non-numeric operand %T", op, left)
	}
	y, ok := toNumber(right)
	if !ok {
		return nil, fmt.Errorf("operator %s: non-numeric operand %T", op, right)
	}
	switch op {
	case "+":
		return x + y, nil
	case "-":
		return x - y, nil
	case "*":
		return x * y, nil
	default:
		if y == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return x / y, nil
	}
}
