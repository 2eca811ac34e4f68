// Package kg is the Knowledge Layer: the exclusive owner of the persistent
// RDF graph. It exposes SPARQL-lite query/update, typed triple-adder
// convenience methods, OWL-RL-ish forward reasoning, and a human-readable
// blob sink, all backend-agnostic -- memstore, sqlitestore, and arango each
// implement only the low-level Backend contract below.
package kg

import (
	"context"
	"fmt"
	"sync"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/kerrors"
	"kce.dev/kce/internal/kg/reasoner"
	"kce.dev/kce/internal/kg/sparql"
)

// Backend is the low-level contract a storage engine implements. Every
// query/update semantic lives in Store; backends only match, add, delete,
// and hold blobs.
type Backend interface {
	MatchTriples(ctx context.Context, pattern domain.MatchPattern) ([]domain.Triple, error)
	AddTriples(ctx context.Context, triples []domain.Triple) error
	DeleteTriples(ctx context.Context, triples []domain.Triple) error
	StoreBlob(ctx context.Context, key string, payload []byte) error
	GetBlob(ctx context.Context, key string) ([]byte, bool, error)
	Close() error
}

// ResultKind discriminates the shape of a Query result, per §4.A's
// dispatch-on-query-form contract.
type ResultKind int

const (
	ResultBool ResultKind = iota
	ResultBindings
	ResultGraph
)

// QueryResult is the tagged result of Store.Query.
type QueryResult struct {
	Kind     ResultKind
	Bool     bool
	Bindings []map[string]domain.Term
	Graph    []domain.Triple
}

// Store is the full Knowledge Layer surface, generic over any Backend.
// Writes are serialized through a single mutex, matching the single-writer
// kernel's §4.A failure-model requirement ("update conflicts are not
// expected... but the implementation must serialize writes").
type Store struct {
	backend Backend
	mu      sync.Mutex
}

// New wraps a Backend with the full Knowledge Layer query/update surface.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Query dispatches a SPARQL-lite ASK or SELECT query.
func (s *Store) Query(ctx context.Context, sparqlText string) (QueryResult, error) {
	q, err := sparql.Parse(sparqlText)
	if err != nil {
		return QueryResult{}, &kerrors.QueryError{Query: sparqlText, Cause: err}
	}

	switch q.Kind {
	case sparql.QueryAsk:
		bindings, err := sparql.EvalWhere(ctx, s.backend, q.Where)
		if err != nil {
			return QueryResult{}, &kerrors.QueryError{Query: sparqlText, Cause: err}
		}
		return QueryResult{Kind: ResultBool, Bool: len(bindings) > 0}, nil
	case sparql.QuerySelect:
		bindings, err := sparql.EvalWhere(ctx, s.backend, q.Where)
		if err != nil {
			return QueryResult{}, &kerrors.QueryError{Query: sparqlText, Cause: err}
		}
		out := make([]map[string]domain.Term, 0, len(bindings))
		for _, b := range bindings {
			row := map[string]domain.Term{}
			if len(q.SelectVars) == 0 {
				for k, v := range b {
					row[k] = v
				}
			} else {
				for _, name := range q.SelectVars {
					if v, ok := b[name]; ok {
						row[name] = v
					}
				}
			}
			out = append(out, row)
		}
		return QueryResult{Kind: ResultBindings, Bindings: out}, nil
	default:
		return QueryResult{}, &kerrors.QueryError{Query: sparqlText, Cause: fmt.Errorf("not a query form (use Update for INSERT/DELETE)")}
	}
}

// Ask is a convenience wrapper for the common ASK-query case.
func (s *Store) Ask(ctx context.Context, sparqlText string) (bool, error) {
	res, err := s.Query(ctx, sparqlText)
	if err != nil {
		return false, err
	}
	return res.Bool, nil
}

// Update executes an INSERT DATA, DELETE DATA, or combined modify
// statement atomically.
func (s *Store) Update(ctx context.Context, sparqlText string) error {
	q, err := sparql.Parse(sparqlText)
	if err != nil {
		return &kerrors.QueryError{Query: sparqlText, Cause: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch q.Kind {
	case sparql.QueryInsertData:
		triples, err := sparql.GroundTriples(q.InsertTemplate, sparql.Binding{})
		if err != nil {
			return &kerrors.QueryError{Query: sparqlText, Cause: err}
		}
		return s.backend.AddTriples(ctx, triples)
	case sparql.QueryDeleteData:
		triples, err := sparql.GroundTriples(q.DeleteTemplate, sparql.Binding{})
		if err != nil {
			return &kerrors.QueryError{Query: sparqlText, Cause: err}
		}
		return s.backend.DeleteTriples(ctx, triples)
	case sparql.QueryModify:
		bindings, err := sparql.EvalWhere(ctx, s.backend, q.Where)
		if err != nil {
			return &kerrors.QueryError{Query: sparqlText, Cause: err}
		}
		var toDelete, toInsert []domain.Triple
		for _, b := range bindings {
			if len(q.DeleteTemplate) > 0 {
				ds, err := sparql.GroundTriples(q.DeleteTemplate, b)
				if err != nil {
					return &kerrors.QueryError{Query: sparqlText, Cause: err}
				}
				toDelete = append(toDelete, ds...)
			}
			if len(q.InsertTemplate) > 0 {
				is, err := sparql.GroundTriples(q.InsertTemplate, b)
				if err != nil {
					return &kerrors.QueryError{Query: sparqlText, Cause: err}
				}
				toInsert = append(toInsert, is...)
			}
		}
		if len(toDelete) > 0 {
			if err := s.backend.DeleteTriples(ctx, toDelete); err != nil {
				return err
			}
		}
		if len(toInsert) > 0 {
			if err := s.backend.AddTriples(ctx, toInsert); err != nil {
				return err
			}
		}
		return nil
	default:
		return &kerrors.QueryError{Query: sparqlText, Cause: fmt.Errorf("not an update form (use Query for ASK/SELECT)")}
	}
}

// AddTriples is the typed triple-adder convenience API (§3): bulk append
// without going through SPARQL text.
func (s *Store) AddTriples(ctx context.Context, triples []domain.Triple) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.AddTriples(ctx, triples)
}

// DeleteTriples removes triples directly, used by the Node Executor's
// update_entities delete-then-insert handling.
func (s *Store) DeleteTriples(ctx context.Context, triples []domain.Triple) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.DeleteTriples(ctx, triples)
}

// MatchTriples exposes the raw backend match for callers (reasoner,
// planner frontier analysis) that need triples rather than SPARQL results.
func (s *Store) MatchTriples(ctx context.Context, pattern domain.MatchPattern) ([]domain.Triple, error) {
	return s.backend.MatchTriples(ctx, pattern)
}

// GetSingle resolves (subject, property) to at most one value, per §4.A.
func (s *Store) GetSingle(ctx context.Context, subject, property domain.Term) (*domain.Term, bool, error) {
	triples, err := s.backend.MatchTriples(ctx, domain.MatchPattern{
		Subject:   &subject,
		Predicate: &property,
	})
	if err != nil {
		return nil, false, err
	}
	if len(triples) == 0 {
		return nil, false, nil
	}
	obj := triples[0].Object
	return &obj, true, nil
}

// StoreHumanReadable persists a blob (typically a JSON payload of node
// inputs/outputs) keyed by runId/eventId, returning an opaque reference.
func (s *Store) StoreHumanReadable(ctx context.Context, runID, eventID string, payload []byte) (string, error) {
	key := runID + "/" + eventID + ".json"
	if err := s.backend.StoreBlob(ctx, key, payload); err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return key, nil
}

// GetHumanReadable resolves a blob reference back to its payload.
func (s *Store) GetHumanReadable(ctx context.Context, ref string) ([]byte, error) {
	payload, ok, err := s.backend.GetBlob(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no blob for ref %q", ref)
	}
	return payload, nil
}

// Reason runs OWL-RL forward closure over the current graph. Idempotent;
// callers trigger it explicitly after bulk loads or at a planner-declared
// reasoning checkpoint (§4.A).
func (s *Store) Reason(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := reasoner.Reason(ctx, s.backend)
	return err
}

// Close releases the underlying backend's resources.
func (s *Store) Close() error {
	return s.backend.Close()
}
