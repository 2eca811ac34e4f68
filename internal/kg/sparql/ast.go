// Package sparql implements a deliberately small subset of SPARQL 1.1 --
// ASK, SELECT, INSERT DATA, DELETE DATA, and a combined DELETE/INSERT/WHERE
// modify form, with single-variable-binding FILTER comparisons -- enough to
// express every query and update shape the catalogue contract (§3, §4)
// requires. It evaluates entirely against whatever a kg.Backend's
// MatchTriples returns, so it never needs to know which storage engine is
// behind it.
package sparql

// TermKind discriminates a parsed query term.
type TermKind int

const (
	TermVar TermKind = iota
	TermIRI
	TermLiteral
)

// Term is one position (subject, predicate, or object) in a parsed triple
// pattern, or a side of a FILTER comparison.
type Term struct {
	Kind     TermKind
	Value    string // variable name without '?', IRI string, or literal lexical form
	Datatype string // literal datatype IRI, already prefix-resolved; empty => inferred
}

// TriplePattern is one triple in a WHERE clause, INSERT template, or DELETE
// template.
type TriplePattern struct {
	Subject, Predicate, Object Term
}

// CompareOp is a FILTER comparison operator.
type CompareOp string

const (
	OpEq  CompareOp = "="
	OpNeq CompareOp = "!="
	OpLt  CompareOp = "<"
	OpLte CompareOp = "<="
	OpGt  CompareOp = ">"
	OpGte CompareOp = ">="
)

// Filter is one FILTER(...) clause comparing two terms.
type Filter struct {
	Op          CompareOp
	Left, Right Term
}

// GraphPattern is a WHERE { ... } body: a conjunction of triple patterns
// plus zero or more FILTERs applied to the resulting bindings.
type GraphPattern struct {
	Triples []TriplePattern
	Filters []Filter
}

// QueryKind discriminates the parsed query/update form.
type QueryKind int

const (
	QueryAsk QueryKind = iota
	QuerySelect
	QueryInsertData
	QueryDeleteData
	QueryModify
)

// Query is the parsed form of any sparql text this package accepts.
type Query struct {
	Kind QueryKind

	SelectVars []string // QuerySelect only; empty means "*"

	Where GraphPattern // QueryAsk, QuerySelect, QueryModify

	InsertTemplate []TriplePattern // QueryInsertData, QueryModify
	DeleteTemplate []TriplePattern // QueryDeleteData, QueryModify

	Prefixes map[string]string
}
