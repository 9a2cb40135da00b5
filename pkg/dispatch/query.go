package dispatch

// Query describes how a declarative method resolves: Where is the predicate
// fragment handed to SearchAll/SearchFirst, and Nullable lets a single-record
// result come back nil instead of failing with a not-found error.
type Query struct {
	Where    string
	Nullable bool
}

// Queries maps method (func field) names to their descriptors. It is passed
// to Bind and takes precedence over struct tags.
type Queries map[string]Query

func (q Queries) apply(c *bindConfig) {
	for name, desc := range q {
		c.queries[name] = desc
	}
}

// Option configures Bind.
type Option interface {
	apply(*bindConfig)
}

type optionFunc func(*bindConfig)

func (f optionFunc) apply(c *bindConfig) { f(c) }

// Strict makes Bind fail on methods that have neither a query nor a default
// body, instead of installing a handler that fails when invoked.
func Strict() Option {
	return optionFunc(func(c *bindConfig) { c.strict = true })
}

type bindConfig struct {
	queries map[string]Query
	strict  bool
}

// Kind classifies a resolved handler.
type Kind int

const (
	// PassThrough forwards to the backing repository.
	PassThrough Kind = iota + 1
	// DefaultBody is a func field the caller set before Bind.
	DefaultBody
	// Generated runs a query and coerces its result.
	Generated
	// Unresolved fails with an unsupported-operation error.
	Unresolved
)

func (k Kind) String() string {
	switch k {
	case PassThrough:
		return "pass-through"
	case DefaultBody:
		return "default-body"
	case Generated:
		return "generated"
	case Unresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// Shape is the result coercion applied by a generated handler.
type Shape int

const (
	// List returns every match.
	List Shape = iota + 1
	// Distinct returns every match deduplicated in first-seen order.
	Distinct
	// Single returns the first match or a not-found error.
	Single
	// Nullable returns the first match or nil.
	Nullable
	// Optional returns the first match wrapped in domain.Optional.
	Optional
)

func (s Shape) String() string {
	switch s {
	case List:
		return "list"
	case Distinct:
		return "set"
	case Single:
		return "single"
	case Nullable:
		return "nullable"
	case Optional:
		return "optional"
	default:
		return "unknown"
	}
}
