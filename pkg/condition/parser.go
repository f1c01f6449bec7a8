package condition

import "fmt"

type parser struct {
	tokens []token
	pos    int
}

func parse(src string) (node, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at %d", tok.text, tok.pos)
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

// accept consumes the next token if it is one of the given operators or keywords
func (p *parser) accept(texts ...string) (string, bool) {
	tok := p.peek()
	if tok.kind != tokOp && tok.kind != tokIdent {
		return "", false
	}
	for _, t := range texts {
		if tok.text == t {
			p.pos++
			return t, true
		}
	}
	return "", false
}

func (p *parser) expect(text string) error {
	if _, ok := p.accept(text); !ok {
		tok := p.peek()
		return fmt.Errorf("expected %q at %d, got %q", text, tok.pos, tok.text)
	}
	return nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept("or", "||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "or", left: left, right: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept("and", "&&"); !ok {
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "and", left: left, right: right}
	}
}

func (p *parser) parseNot() (node, error) {
	if _, ok := p.accept("not", "!"); ok {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "not", operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	if op, ok := p.accept("==", "!=", "<", "<=", ">", ">=", "in"); ok {
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: op, left: left, right: right}, nil
	}

	// "not in"
	if p.peek().kind == tokIdent && p.peek().text == "not" &&
		p.tokens[p.pos+1].kind == tokIdent && p.tokens[p.pos+1].text == "in" {
		p.pos += 2
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "not", operand: &binaryNode{op: "in", left: left, right: right}}, nil
	}

	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.accept("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.accept("*", "/")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if _, ok := p.accept("-"); ok {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "-", operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept("."); ok {
			tok := p.next()
			if tok.kind != tokIdent {
				return nil, fmt.Errorf("expected field name at %d", tok.pos)
			}
			n = &memberNode{target: n, name: tok.text}
			continue
		}
		if _, ok := p.accept("["); ok {
			idx, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			n = &indexNode{target: n, index: idx}
			continue
		}
		return n, nil
	}
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()

	switch tok.kind {
	case tokNumber:
		return &literalNode{value: tok.num}, nil
	case tokString:
		return &literalNode{value: tok.text}, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return &literalNode{value: true}, nil
		case "false":
			return &literalNode{value: false}, nil
		case "null", "nil":
			return &literalNode{value: nil}, nil
		}
		if keywords[tok.text] {
			return nil, fmt.Errorf("unexpected keyword %q at %d", tok.text, tok.pos)
		}
		if _, ok := p.accept("("); ok {
			return p.parseCall(tok)
		}
		return &identNode{name: tok.text}, nil
	case tokOp:
		switch tok.text {
		case "(":
			n, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return n, nil
		case "[":
			items, err := p.parseList("]")
			if err != nil {
				return nil, err
			}
			return &listNode{items: items}, nil
		}
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q at %d", tok.text, tok.pos)
}

func (p *parser) parseCall(name token) (node, error) {
	fn, ok := builtins[name.text]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name.text)
	}
	args, err := p.parseList(")")
	if err != nil {
		return nil, err
	}
	return &callNode{name: name.text, fn: fn, args: args}, nil
}

func (p *parser) parseList(closing string) ([]node, error) {
	var items []node
	if _, ok := p.accept(closing); ok {
		return items, nil
	}
	for {
		item, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if _, ok := p.accept(","); ok {
			continue
		}
		if err := p.expect(closing); err != nil {
			return nil, err
		}
		return items, nil
	}
}
