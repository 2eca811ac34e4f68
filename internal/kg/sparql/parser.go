package sparql

import (
	"fmt"
	"strconv"
	"strings"

	"kce.dev/kce/internal/domain"
)

type cursor struct {
	toks []string
	pos  int
}

func (c *cursor) peek() (string, bool) {
	if c.pos >= len(c.toks) {
		return "", false
	}
	return c.toks[c.pos], true
}

func (c *cursor) next() (string, bool) {
	t, ok := c.peek()
	if ok {
		c.pos++
	}
	return t, ok
}

func (c *cursor) expect(tok string) error {
	got, ok := c.next()
	if !ok || !strings.EqualFold(got, tok) {
		return fmt.Errorf("expected %q, got %q (pos %d)", tok, got, c.pos)
	}
	return nil
}

// Parse parses a single SPARQL statement (ASK, SELECT, INSERT DATA, DELETE
// DATA, or a DELETE{}/INSERT{}/WHERE{} modify) into a Query AST.
func Parse(text string) (*Query, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	c := &cursor{toks: toks}

	q := &Query{Prefixes: map[string]string{}}
	for {
		tok, ok := c.peek()
		if !ok {
			return nil, fmt.Errorf("empty query")
		}
		if upper(tok) != "PREFIX" {
			break
		}
		c.next()
		name, ok := c.next()
		if !ok {
			return nil, fmt.Errorf("expected prefix name")
		}
		iriTok, ok := c.next()
		if !ok {
			return nil, fmt.Errorf("expected prefix IRI")
		}
		q.Prefixes[strings.TrimSuffix(name, ":")] = strings.Trim(iriTok, "<>")
	}

	kw, ok := c.next()
	if !ok {
		return nil, fmt.Errorf("expected query keyword")
	}

	switch upper(kw) {
	case "ASK":
		q.Kind = QueryAsk
		gp, err := parseGraphPattern(c, q.Prefixes)
		if err != nil {
			return nil, err
		}
		q.Where = gp
	case "SELECT":
		q.Kind = QuerySelect
		for {
			tok, ok := c.peek()
			if !ok {
				return nil, fmt.Errorf("unexpected end of SELECT clause")
			}
			if strings.EqualFold(tok, "WHERE") || tok == "{" {
				break
			}
			c.next()
			if tok == "*" {
				continue
			}
			q.SelectVars = append(q.SelectVars, strings.TrimPrefix(tok, "?"))
		}
		if tok, ok := c.peek(); ok && strings.EqualFold(tok, "WHERE") {
			c.next()
		}
		gp, err := parseGraphPattern(c, q.Prefixes)
		if err != nil {
			return nil, err
		}
		q.Where = gp
	case "INSERT":
		if tok, ok := c.peek(); ok && strings.EqualFold(tok, "DATA") {
			c.next()
			q.Kind = QueryInsertData
			triples, err := parseTripleBlock(c, q.Prefixes)
			if err != nil {
				return nil, err
			}
			q.InsertTemplate = triples
			break
		}
		q.Kind = QueryModify
		triples, err := parseTripleBlock(c, q.Prefixes)
		if err != nil {
			return nil, err
		}
		q.InsertTemplate = triples
		if err := expectKeyword(c, "WHERE"); err != nil {
			return nil, err
		}
		gp, err := parseGraphPattern(c, q.Prefixes)
		if err != nil {
			return nil, err
		}
		q.Where = gp
	case "DELETE":
		if tok, ok := c.peek(); ok && strings.EqualFold(tok, "DATA") {
			c.next()
			q.Kind = QueryDeleteData
			triples, err := parseTripleBlock(c, q.Prefixes)
			if err != nil {
				return nil, err
			}
			q.DeleteTemplate = triples
			break
		}
		q.Kind = QueryModify
		delTriples, err := parseTripleBlock(c, q.Prefixes)
		if err != nil {
			return nil, err
		}
		q.DeleteTemplate = delTriples
		if tok, ok := c.peek(); ok && strings.EqualFold(tok, "INSERT") {
			c.next()
			insTriples, err := parseTripleBlock(c, q.Prefixes)
			if err != nil {
				return nil, err
			}
			q.InsertTemplate = insTriples
		}
		if err := expectKeyword(c, "WHERE"); err != nil {
			return nil, err
		}
		gp, err := parseGraphPattern(c, q.Prefixes)
		if err != nil {
			return nil, err
		}
		q.Where = gp
	default:
		return nil, fmt.Errorf("unrecognized query form %q", kw)
	}

	return q, nil
}

func expectKeyword(c *cursor, kw string) error {
	tok, ok := c.next()
	if !ok || !strings.EqualFold(tok, kw) {
		return fmt.Errorf("expected %s, got %q", kw, tok)
	}
	return nil
}

// parseTripleBlock parses a `{ s p o . s p o . }` block with no FILTERs,
// used for INSERT DATA / DELETE DATA / modify templates.
func parseTripleBlock(c *cursor, prefixes map[string]string) ([]TriplePattern, error) {
	if err := c.expect("{"); err != nil {
		return nil, err
	}
	var triples []TriplePattern
	for {
		tok, ok := c.peek()
		if !ok {
			return nil, fmt.Errorf("unterminated block")
		}
		if tok == "}" {
			c.next()
			return triples, nil
		}
		tp, err := parseTriple(c, prefixes)
		if err != nil {
			return nil, err
		}
		triples = append(triples, tp)
		if tok, ok := c.peek(); ok && tok == "." {
			c.next()
		}
	}
}

// parseGraphPattern parses a `{ ... }` WHERE body: triples interleaved with
// FILTER(...) clauses.
func parseGraphPattern(c *cursor, prefixes map[string]string) (GraphPattern, error) {
	var gp GraphPattern
	if err := c.expect("{"); err != nil {
		return gp, err
	}
	for {
		tok, ok := c.peek()
		if !ok {
			return gp, fmt.Errorf("unterminated graph pattern")
		}
		if tok == "}" {
			c.next()
			return gp, nil
		}
		if strings.EqualFold(tok, "FILTER") {
			c.next()
			if err := c.expect("("); err != nil {
				return gp, err
			}
			f, err := parseFilterExpr(c, prefixes)
			if err != nil {
				return gp, err
			}
			if err := c.expect(")"); err != nil {
				return gp, err
			}
			gp.Filters = append(gp.Filters, f)
			continue
		}
		tp, err := parseTriple(c, prefixes)
		if err != nil {
			return gp, err
		}
		gp.Triples = append(gp.Triples, tp)
		if tok, ok := c.peek(); ok && tok == "." {
			c.next()
		}
	}
}

func parseFilterExpr(c *cursor, prefixes map[string]string) (Filter, error) {
	leftTok, ok := c.next()
	if !ok {
		return Filter{}, fmt.Errorf("expected filter left operand")
	}
	opTok, ok := c.next()
	if !ok {
		return Filter{}, fmt.Errorf("expected filter operator")
	}
	rightTok, ok := c.next()
	if !ok {
		return Filter{}, fmt.Errorf("expected filter right operand")
	}
	left, err := parseTerm(leftTok, prefixes)
	if err != nil {
		return Filter{}, err
	}
	right, err := parseTerm(rightTok, prefixes)
	if err != nil {
		return Filter{}, err
	}
	op := CompareOp(opTok)
	switch op {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
	default:
		return Filter{}, fmt.Errorf("unsupported filter operator %q", opTok)
	}
	return Filter{Op: op, Left: left, Right: right}, nil
}

func parseTriple(c *cursor, prefixes map[string]string) (TriplePattern, error) {
	sTok, ok := c.next()
	if !ok {
		return TriplePattern{}, fmt.Errorf("expected subject")
	}
	pTok, ok := c.next()
	if !ok {
		return TriplePattern{}, fmt.Errorf("expected predicate")
	}
	oTok, ok := c.next()
	if !ok {
		return TriplePattern{}, fmt.Errorf("expected object")
	}
	s, err := parseTerm(sTok, prefixes)
	if err != nil {
		return TriplePattern{}, err
	}
	if pTok == "a" {
		pTok = "<" + domain.RDFType + ">"
	}
	p, err := parseTerm(pTok, prefixes)
	if err != nil {
		return TriplePattern{}, err
	}
	o, err := parseTerm(oTok, prefixes)
	if err != nil {
		return TriplePattern{}, err
	}
	return TriplePattern{Subject: s, Predicate: p, Object: o}, nil
}

func parseTerm(tok string, prefixes map[string]string) (Term, error) {
	switch {
	case strings.HasPrefix(tok, "?"):
		return Term{Kind: TermVar, Value: strings.TrimPrefix(tok, "?")}, nil
	case strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">"):
		return Term{Kind: TermIRI, Value: strings.Trim(tok, "<>")}, nil
	case strings.HasPrefix(tok, `"`):
		return parseLiteralToken(tok, prefixes)
	case tok == "true" || tok == "false":
		return Term{Kind: TermLiteral, Value: tok, Datatype: domain.XSDBoolean}, nil
	case isNumeric(tok):
		dt := domain.XSDInteger
		if strings.Contains(tok, ".") {
			dt = domain.XSDDouble
		}
		return Term{Kind: TermLiteral, Value: tok, Datatype: dt}, nil
	case strings.Contains(tok, ":"):
		iri, err := resolveCURIE(tok, prefixes)
		if err != nil {
			return Term{}, err
		}
		return Term{Kind: TermIRI, Value: iri}, nil
	default:
		return Term{}, fmt.Errorf("unrecognized term %q", tok)
	}
}

func parseLiteralToken(tok string, prefixes map[string]string) (Term, error) {
	idx := strings.Index(tok, `^^`)
	lex := tok
	dt := domain.XSDString
	if idx >= 0 {
		lex = tok[:idx]
		dtTok := tok[idx+2:]
		if strings.HasPrefix(dtTok, "<") {
			dt = strings.Trim(dtTok, "<>")
		} else {
			resolved, err := resolveCURIE(dtTok, prefixes)
			if err != nil {
				return Term{}, err
			}
			dt = resolved
		}
	}
	value := strings.Trim(lex, `"`)
	return Term{Kind: TermLiteral, Value: value, Datatype: dt}, nil
}

func resolveCURIE(tok string, prefixes map[string]string) (string, error) {
	parts := strings.SplitN(tok, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("malformed prefixed name %q", tok)
	}
	base, ok := prefixes[parts[0]]
	if !ok {
		base, ok = wellKnownPrefixes[parts[0]]
	}
	if !ok {
		return "", fmt.Errorf("unknown prefix %q in %q", parts[0], tok)
	}
	return base + parts[1], nil
}

var wellKnownPrefixes = map[string]string{
	"rdf":  "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
	"rdfs": "http://www.w3.org/2000/01/rdf-schema#",
	"xsd":  "http://www.w3.org/2001/XMLSchema#",
	"owl":  "http://www.w3.org/2002/07/owl#",
}

func isNumeric(tok string) bool {
	if tok == "" {
		return false
	}
	if _, err := strconv.ParseFloat(tok, 64); err == nil {
		return true
	}
	return false
}
