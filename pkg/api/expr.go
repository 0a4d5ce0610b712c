package api

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/petrijr/stately/pkg/state"
)

// The condition expression language is deliberately tiny: comparisons over
// state keys and literals, combined with boolean connectives. No function
// calls, no arithmetic.
//
//	or     := and ( "||" and )*
//	and    := unary ( "&&" unary )*
//	unary  := "!" unary | cmp
//	cmp    := prim ( ("==" | "!=" | "<" | "<=" | ">" | ">=") prim )?
//	prim   := number | string | "true" | "false" | ident | "(" or ")"

type exprNode interface {
	eval(s state.State) (any, error)
}

type litNode struct{ value any }

func (n litNode) eval(state.State) (any, error) { return n.value, nil }

type identNode struct{ key string }

func (n identNode) eval(s state.State) (any, error) {
	v, ok := s.Get(n.key)
	if !ok {
		return nil, fmt.Errorf("key %q is not in state", n.key)
	}
	return v, nil
}

type notNode struct{ inner exprNode }

func (n notNode) eval(s state.State) (any, error) {
	v, err := n.inner.eval(s)
	if err != nil {
		return nil, err
	}
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("operand of ! is %T, want bool", v)
	}
	return !b, nil
}

type boolNode struct {
	op          string // "&&" or "||"
	left, right exprNode
}

func (n boolNode) eval(s state.State) (any, error) {
	lv, err := n.left.eval(s)
	if err != nil {
		return nil, err
	}
	lb, ok := lv.(bool)
	if !ok {
		return nil, fmt.Errorf("left operand of %s is %T, want bool", n.op, lv)
	}
	// Short-circuit.
	if n.op == "&&" && !lb {
		return false, nil
	}
	if n.op == "||" && lb {
		return true, nil
	}
	rv, err := n.right.eval(s)
	if err != nil {
		return nil, err
	}
	rb, ok := rv.(bool)
	if !ok {
		return nil, fmt.Errorf("right operand of %s is %T, want bool", n.op, rv)
	}
	return rb, nil
}

type cmpNode struct {
	op          string
	left, right exprNode
}

func (n cmpNode) eval(s state.State) (any, error) {
	lv, err := n.left.eval(s)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(s)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "==":
		return looseEqual(lv, rv), nil
	case "!=":
		return !looseEqual(lv, rv), nil
	}

	// Ordering comparisons require both sides numeric or both strings.
	if lf, lok := toFloat(lv); lok {
		rf, rok := toFloat(rv)
		if !rok {
			return nil, fmt.Errorf("cannot compare %T with %T", lv, rv)
		}
		return compareOrdered(n.op, lf, rf)
	}
	ls, lok := lv.(string)
	rs, rok := rv.(string)
	if !lok || !rok {
		return nil, fmt.Errorf("cannot compare %T with %T", lv, rv)
	}
	return compareOrdered(n.op, ls, rs)
}

func compareOrdered[T float64 | string](op string, a, b T) (any, error) {
	switch op {
	case "<":
		return a < b, nil
	case "<=":
		return a <= b, nil
	case ">":
		return a > b, nil
	case ">=":
		return a >= b, nil
	default:
		return nil, fmt.Errorf("unknown comparison operator %q", op)
	}
}

type token struct {
	kind string // "op", "ident", "number", "string", "bool", "lparen", "rparen", "eof"
	text string
}

type exprParser struct {
	tokens []token
	pos    int
	keys   map[string]bool
}

// parseExpr parses the expression and returns its root node along with the
// sorted set of state keys it references.
func parseExpr(expression string) (exprNode, []string, error) {
	tokens, err := lexExpr(expression)
	if err != nil {
		return nil, nil, err
	}
	p := &exprParser{tokens: tokens, keys: map[string]bool{}}
	node, err := p.parseOr()
	if err != nil {
		return nil, nil, err
	}
	if tok := p.peek(); tok.kind != "eof" {
		return nil, nil, fmt.Errorf("unexpected trailing input at %q", tok.text)
	}
	keys := make([]string, 0, len(p.keys))
	for k := range p.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return node, keys, nil
}

func lexExpr(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: "lparen", text: "("})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: "rparen", text: ")"})
			i++
		case strings.ContainsRune("=!<>&|", rune(c)):
			op, n, err := lexOperator(src[i:])
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: "op", text: op})
			i += n
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(src) && src[j] != quote {
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{kind: "string", text: src[i+1 : j]})
			i = j + 1
		case c >= '0' && c <= '9' || c == '-' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			j := i + 1
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			tokens = append(tokens, token{kind: "number", text: src[i:j]})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i + 1
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_') {
				j++
			}
			word := src[i:j]
			if word == "true" || word == "false" {
				tokens = append(tokens, token{kind: "bool", text: word})
			} else {
				tokens = append(tokens, token{kind: "ident", text: word})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	tokens = append(tokens, token{kind: "eof"})
	return tokens, nil
}

func lexOperator(src string) (string, int, error) {
	two := ""
	if len(src) >= 2 {
		two = src[:2]
	}
	switch two {
	case "==", "!=", "<=", ">=", "&&", "||":
		return two, 2, nil
	}
	switch src[0] {
	case '<', '>', '!':
		return string(src[0]), 1, nil
	case '=':
		return "", 0, fmt.Errorf("single = is not an operator, use ==")
	default:
		return "", 0, fmt.Errorf("unknown operator starting at %q", string(src[0]))
	}
}

func (p *exprParser) peek() token { return p.tokens[p.pos] }

func (p *exprParser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != "eof" {
		p.pos++
	}
	return tok
}

func (p *exprParser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == "op" && p.peek().text == "||" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = boolNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == "op" && p.peek().text == "&&" {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = boolNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if p.peek().kind == "op" && p.peek().text == "!" {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{inner: inner}, nil
	}
	return p.parseCmp()
}

func (p *exprParser) parseCmp() (exprNode, error) {
	left, err := p.parsePrim()
	if err != nil {
		return nil, err
	}
	tok := p.peek()
	if tok.kind == "op" {
		switch tok.text {
		case "==", "!=", "<", "<=", ">", ">=":
			p.next()
			right, err := p.parsePrim()
			if err != nil {
				return nil, err
			}
			return cmpNode{op: tok.text, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *exprParser) parsePrim() (exprNode, error) {
	tok := p.next()
	switch tok.kind {
	case "number":
		if strings.Contains(tok.text, ".") {
			f, err := strconv.ParseFloat(tok.text, 64)
			if err != nil {
				return nil, fmt.Errorf("bad number literal %q", tok.text)
			}
			return litNode{value: f}, nil
		}
		n, err := strconv.Atoi(tok.text)
		if err != nil {
			return nil, fmt.Errorf("bad number literal %q", tok.text)
		}
		return litNode{value: n}, nil
	case "string":
		return litNode{value: tok.text}, nil
	case "bool":
		return litNode{value: tok.text == "true"}, nil
	case "ident":
		p.keys[tok.text] = true
		return identNode{key: tok.text}, nil
	case "lparen":
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != "rparen" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil
	case "eof":
		return nil, fmt.Errorf("unexpected end of expression")
	default:
		return nil, fmt.Errorf("unexpected token %q", tok.text)
	}
}
