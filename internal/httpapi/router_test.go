package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/httpapi"
	"kce.dev/kce/internal/id"
	"kce.dev/kce/internal/kg"
	"kce.dev/kce/internal/kg/memstore"
	"kce.dev/kce/internal/provenance"
)

func init() {
	_ = id.Init(4)
}

func TestRouter_Health(t *testing.T) {
	store := kg.New(memstore.New())
	rec := provenance.New(store)
	router := httpapi.NewRouter(store, rec, httpapi.Config{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_GetRun_NotFound(t *testing.T) {
	store := kg.New(memstore.New())
	rec := provenance.New(store)
	router := httpapi.NewRouter(store, rec, httpapi.Config{})

	req := httptest.NewRequest(http.MethodGet, "/runs/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_GetRun_Found(t *testing.T) {
	ctx := context.Background()
	store := kg.New(memstore.New())
	rec := provenance.New(store)
	router := httpapi.NewRouter(store, rec, httpapi.Config{})

	run, err := rec.BeginRun(ctx, domain.TargetDescription{AskQuery: "ASK { ?x <urn:kce:prop:done> ?v }"}, "urn:kce:ctx:1")
	require.NoError(t, err)
	require.NoError(t, rec.EndRun(ctx, run, domain.RunSucceeded, ""))

	req := httptest.NewRequest(http.MethodGet, "/runs/"+run.RunID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Succeeded", body["status"])
}

func TestRouter_Query(t *testing.T) {
	ctx := context.Background()
	store := kg.New(memstore.New())
	require.NoError(t, store.AddTriples(ctx, []domain.Triple{
		{Subject: domain.IRI("urn:kce:entity:1"), Predicate: domain.IRI("urn:kce:prop:name"), Object: domain.Literal("widget", domain.XSDString)},
	}))
	rec := provenance.New(store)
	router := httpapi.NewRouter(store, rec, httpapi.Config{})

	body, _ := json.Marshal(map[string]string{"query": "ASK { <urn:kce:entity:1> <urn:kce:prop:name> \"widget\" }"})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "bool", resp["kind"])
	assert.Equal(t, true, resp["bool"])
}

func TestRouter_Query_InvalidSPARQLReturns422(t *testing.T) {
	store := kg.New(memstore.New())
	rec := provenance.New(store)
	router := httpapi.NewRouter(store, rec, httpapi.Config{})

	body, _ := json.Marshal(map[string]string{"query": "NOT VALID SPARQL"})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
