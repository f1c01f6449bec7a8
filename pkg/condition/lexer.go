package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

var keywords = map[string]bool{
	"true": true, "false": true, "null": true, "nil": true,
	"and": true, "or": true, "not": true, "in": true,
}

var twoCharOps = []string{"==", "!=", "<=", ">=", "&&", "||"}

// lex splits an expression into tokens
func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := rune(src[i])

		switch {
		case unicode.IsSpace(c):
			i++

		case unicode.IsDigit(c) || (c == '.' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			start := i
			for i < len(src) && (unicode.IsDigit(rune(src[i])) || src[i] == '.') {
				i++
			}
			n, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at %d", src[start:i], start)
			}
			tokens = append(tokens, token{kind: tokNumber, num: n, text: src[start:i], pos: start})

		case c == '"' || c == '\'':
			start := i
			quote := src[i]
			i++
			var sb strings.Builder
			closed := false
			for i < len(src) {
				if src[i] == '\\' && i+1 < len(src) {
					sb.WriteByte(src[i+1])
					i += 2
					continue
				}
				if src[i] == quote {
					closed = true
					i++
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at %d", start)
			}
			tokens = append(tokens, token{kind: tokString, text: sb.String(), pos: start})

		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(src) && (unicode.IsLetter(rune(src[i])) || unicode.IsDigit(rune(src[i])) || src[i] == '_') {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: src[start:i], pos: start})

		default:
			matched := false
			for _, op := range twoCharOps {
				if strings.HasPrefix(src[i:], op) {
					tokens = append(tokens, token{kind: tokOp, text: op, pos: i})
					i += 2
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			if strings.ContainsRune("<>+-*/()[],.!", c) {
				tokens = append(tokens, token{kind: tokOp, text: string(c), pos: i})
				i++
				continue
			}
			return nil, fmt.Errorf("unexpected character %q at %d", c, i)
		}
	}

	tokens = append(tokens, token{kind: tokEOF, pos: len(src)})
	return tokens, nil
}
