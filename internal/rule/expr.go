package rule

import (
	"strings"
	"unicode"

	"ocr-watch/internal/errs"
)

// Expression grammar for CUSTOM rule sets:
//
//	expr    = orExpr
//	orExpr  = andExpr { "or" andExpr }
//	andExpr = unary { "and" unary }
//	unary   = "not" unary | primary
//	primary = IDENT | "(" expr ")"
//
// IDENT is a rule id made of letters, digits, '_', '-', '.' and ':'.
// Nothing else is accepted.

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' || r == ':'
}

func tokenize(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case isIdentRune(r):
			start := i
			for i < len(runes) && isIdentRune(runes[i]) {
				i++
			}
			word := string(runes[start:i])
			kind := tokIdent
			switch strings.ToLower(word) {
			case "and":
				kind = tokAnd
			case "or":
				kind = tokOr
			case "not":
				kind = tokNot
			}
			toks = append(toks, token{kind: kind, text: word, pos: start})
		default:
			return nil, errs.Newf(errs.ErrRuleConfig, "unexpected character %q at %d", r, i)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(runes)}), nil
}

// Expr is a compiled boolean expression over rule ids
type Expr interface {
	Eval(values map[string]bool) bool
}

type identExpr string

func (e identExpr) Eval(v map[string]bool) bool { return v[string(e)] }

type notExpr struct{ x Expr }

func (e notExpr) Eval(v map[string]bool) bool { return !e.x.Eval(v) }

type andExpr struct{ l, r Expr }

func (e andExpr) Eval(v map[string]bool) bool { return e.l.Eval(v) && e.r.Eval(v) }

type orExpr struct{ l, r Expr }

func (e orExpr) Eval(v map[string]bool) bool { return e.l.Eval(v) || e.r.Eval(v) }

type parser struct {
	toks   []token
	pos    int
	known  func(id string) bool
	idents []string
}

// CompileExpression parses src. known reports whether an identifier names an
// existing rule; nil accepts any identifier.
func CompileExpression(src string, known func(id string) bool) (Expr, []string, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil, errs.New(errs.ErrRuleConfig, "expression is empty")
	}
	toks, err := tokenize(src)
	if err != nil {
		return nil, nil, err
	}
	p := &parser{toks: toks, known: known}
	e, err := p.parseOr()
	if err != nil {
		return nil, nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, nil, errs.Newf(errs.ErrRuleConfig, "unexpected %q at %d", t.text, t.pos)
	}
	return e, p.idents, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.peek().kind == tokNot {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		if p.known != nil && !p.known(t.text) {
			return nil, errs.Newf(errs.ErrRuleConfig, "unknown rule %q in expression", t.text)
		}
		p.idents = append(p.idents, t.text)
		return identExpr(t.text), nil
	case tokLParen:
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, errs.Newf(errs.ErrRuleConfig, "missing ')' at %d", c.pos)
		}
		return e, nil
	case tokEOF:
		return nil, errs.New(errs.ErrRuleConfig, "unexpected end of expression")
	default:
		return nil, errs.Newf(errs.ErrRuleConfig, "unexpected %q at %d", t.text, t.pos)
	}
}
