package docquery

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"docrepo/internal/jsondoc"
	"docrepo/pkg/domain"

	"github.com/tidwall/gjson"
)

// LikePredicate is the containment fragment stores built on this package
// report from DocumentStore.LikePredicate.
const LikePredicate = "@> ?"

const (
	fieldID      = "@id"
	fieldVersion = "@version"
	fieldDoc     = "@this"
)

// Predicate is a parsed fragment with its parameters bound.
type Predicate struct {
	conds []condition
	order []orderKey
}

type condition struct {
	path    string
	op      string
	operand value
	example []byte
}

type orderKey struct {
	path string
	desc bool
}

// Parse parses fragment and binds params positionally to its placeholders.
// An empty fragment matches every row.
func Parse(fragment string, params []any) (*Predicate, error) {
	toks, err := lex(fragment)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", fragment, err)
	}
	p := &parser{toks: toks, params: params}
	pred, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", fragment, err)
	}
	if p.used != len(params) {
		return nil, fmt.Errorf("parse %q: %d placeholders for %d parameters", fragment, p.used, len(params))
	}
	return pred, nil
}

type parser struct {
	toks   []token
	i      int
	params []any
	used   int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) parse() (*Predicate, error) {
	pred := &Predicate{}
	if p.peek().keyword("WHERE") {
		p.next()
		if p.peek().kind == tokEOF || p.peek().keyword("ORDER") {
			return nil, fmt.Errorf("empty WHERE clause")
		}
	}
	for p.peek().kind != tokEOF && !p.peek().keyword("ORDER") {
		if len(pred.conds) > 0 {
			if t := p.next(); !t.keyword("AND") {
				return nil, fmt.Errorf("position %d: expected AND, got %q", t.pos, t.text)
			}
		}
		cond, err := p.condition()
		if err != nil {
			return nil, err
		}
		pred.conds = append(pred.conds, cond)
	}
	if p.peek().keyword("ORDER") {
		p.next()
		if t := p.next(); !t.keyword("BY") {
			return nil, fmt.Errorf("position %d: expected BY after ORDER", t.pos)
		}
		for {
			t := p.next()
			if t.kind != tokWord {
				return nil, fmt.Errorf("position %d: expected order path", t.pos)
			}
			key := orderKey{path: t.text}
			if p.peek().keyword("ASC") {
				p.next()
			} else if p.peek().keyword("DESC") {
				p.next()
				key.desc = true
			}
			pred.order = append(pred.order, key)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("position %d: unexpected %q", t.pos, t.text)
	}
	return pred, nil
}

func (p *parser) condition() (condition, error) {
	var cond condition
	t := p.next()
	switch {
	case t.kind == tokOp && t.text == "@>":
		// A bare containment applies to the whole document.
		cond.path, cond.op = fieldDoc, "@>"
	case t.kind == tokWord:
		cond.path = t.text
		op := p.next()
		if op.kind != tokOp {
			return cond, fmt.Errorf("position %d: expected operator after %s", op.pos, t.text)
		}
		cond.op = op.text
		if cond.op == "<>" {
			cond.op = "!="
		}
	default:
		return cond, fmt.Errorf("position %d: expected path, got %q", t.pos, t.text)
	}

	raw, err := p.operand()
	if err != nil {
		return cond, err
	}
	if cond.op == "@>" {
		cond.example, err = exampleBytes(raw)
		if err != nil {
			return cond, err
		}
		return cond, nil
	}
	cond.operand, err = fromAny(raw)
	return cond, err
}

func (p *parser) operand() (any, error) {
	t := p.next()
	switch t.kind {
	case tokParam:
		if p.used >= len(p.params) {
			return nil, fmt.Errorf("position %d: missing parameter %d", t.pos, p.used+1)
		}
		v := p.params[p.used]
		p.used++
		return v, nil
	case tokString:
		return t.text, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("position %d: bad number %q", t.pos, t.text)
		}
		return f, nil
	case tokWord:
		switch strings.ToLower(t.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
	}
	return nil, fmt.Errorf("position %d: expected operand, got %q", t.pos, t.text)
}

func exampleBytes(v any) ([]byte, error) {
	var data []byte
	switch t := v.(type) {
	case string:
		data = []byte(t)
	case []byte:
		data = t
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("containment example: %w", err)
		}
		data = encoded
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("containment example is not valid json")
	}
	return data, nil
}

// Match reports whether row satisfies every condition.
func (p *Predicate) Match(row domain.Row) bool {
	for _, cond := range p.conds {
		if !cond.match(row) {
			return false
		}
	}
	return true
}

func (c condition) match(row domain.Row) bool {
	if c.op == "@>" {
		if c.path == fieldDoc {
			return jsondoc.Contains(row.Document, c.example)
		}
		field := gjson.GetBytes(row.Document, c.path)
		return field.Exists() && jsondoc.Contains([]byte(field.Raw), c.example)
	}
	return compare(fieldValue(row, c.path), c.op, c.operand)
}

// Sort orders rows by the ORDER BY keys. Rows equal on every key keep their
// relative order.
func (p *Predicate) Sort(rows []domain.Row) {
	if len(p.order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, key := range p.order {
			c := order(fieldValue(rows[i], key.path), fieldValue(rows[j], key.path))
			if c == 0 {
				continue
			}
			if key.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Apply filters rows (assumed in identity order), sorts them and applies
// q.Limit. rows is not modified.
func Apply(rows []domain.Row, q domain.Query) ([]domain.Row, error) {
	pred, err := Parse(q.Predicate, q.Params)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		if pred.Match(row) {
			out = append(out, row)
		}
	}
	pred.Sort(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
