package querysafety

import (
	"strings"
	"time"
)

// Operator is a comparison supported by BuildWhereClause.
type Operator string

const (
	OpEq        Operator = "="
	OpGte       Operator = ">="
	OpLte       Operator = "<="
	OpIn        Operator = "IN"
	OpLike      Operator = "LIKE"
	OpDateRange Operator = "BETWEEN"
)

// Condition is one predicate. Value carries the operand; IN takes Values; date ranges take From
// and To, either of which may be zero.
type Condition struct {
	Column string
	Op     Operator
	Value  any
	Values []any
	From   time.Time
	To     time.Time
}

// Builder produces parameterized SQL fragments for one dialect and whitelist.
type Builder struct {
	Dialect   Dialect
	Whitelist *Whitelist
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// BuildWhereClause joins conditions with AND. Values only ever appear as arguments. Placeholders
// are numbered from startAt (1 for a fresh query). An empty list yields an empty clause.
func (b Builder) BuildWhereClause(conds []Condition, startAt int) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}
	if startAt < 1 {
		startAt = 1
	}
	n := startAt
	next := func() string {
		p := b.Dialect.Placeholder(n)
		n++
		return p
	}

	parts := make([]string, 0, len(conds))
	var args []any
	for _, c := range conds {
		col, err := b.Whitelist.SafeColumnIdentifier(c.Column)
		if err != nil {
			return "", nil, err
		}
		switch c.Op {
		case OpEq, OpGte, OpLte:
			if !primitive(c.Value) {
				return "", nil, reject("condition on %s has non-primitive value", c.Column)
			}
			parts = append(parts, col+" "+string(c.Op)+" "+next())
			args = append(args, c.Value)
		case OpIn:
			if len(c.Values) == 0 {
				return "", nil, reject("IN condition on %s has no values", c.Column)
			}
			ph := make([]string, len(c.Values))
			for i, v := range c.Values {
				if !primitive(v) {
					return "", nil, reject("IN condition on %s has non-primitive value", c.Column)
				}
				ph[i] = next()
				args = append(args, v)
			}
			parts = append(parts, col+" IN ("+strings.Join(ph, ", ")+")")
		case OpLike:
			s, ok := c.Value.(string)
			if !ok {
				return "", nil, reject("LIKE condition on %s needs a string", c.Column)
			}
			parts = append(parts, col+" LIKE "+next()+` ESCAPE '\'`)
			args = append(args, "%"+likeEscaper.Replace(s)+"%")
		case OpDateRange:
			if c.From.IsZero() && c.To.IsZero() {
				return "", nil, reject("date range on %s is empty", c.Column)
			}
			if !c.From.IsZero() {
				parts = append(parts, col+" >= "+next())
				args = append(args, c.From)
			}
			if !c.To.IsZero() {
				parts = append(parts, col+" <= "+next())
				args = append(args, c.To)
			}
		default:
			return "", nil, reject("unsupported operator %q", c.Op)
		}
	}
	return "WHERE " + strings.Join(parts, " AND "), args, nil
}
