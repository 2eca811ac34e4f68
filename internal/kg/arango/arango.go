// Package arango is an alternate durable kg.Backend for multi-process
// deployments, built on the ArangoDB document store. Unlike the teacher's
// code-graph client (separate typed collections per node/edge kind), this
// backend stores every triple as one document in a single `triples`
// collection and leans on bound AQL (bindVars + cursor) exactly in the
// teacher's idiom for both point lookups and pattern matches.
package arango

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"

	"kce.dev/kce/internal/domain"
)

const (
	triplesCollection = "triples"
	blobsCollection    = "blobs"
)

// Config connects to an ArangoDB deployment and selects/creates a database.
type Config struct {
	URL      string
	Username string
	Password string
	Database string
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("arangodb URL is required")
	}
	if c.Username == "" {
		return fmt.Errorf("arangodb username is required")
	}
	if c.Database == "" {
		return fmt.Errorf("arangodb database name is required")
	}
	return nil
}

type Backend struct {
	conn         connection.Connection
	arangoClient arangodb.Client
	db           arangodb.Database
	cfg          Config
}

// Open connects, ensures the database and collections exist, and returns a
// ready-to-use Backend.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("arangodb config: %w", err)
	}

	endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
	conn := connection.NewHttp2Connection(connection.DefaultHTTP2ConfigurationWrapper(endpoint, true))

	auth := connection.NewBasicAuth(cfg.Username, cfg.Password)
	if err := conn.SetAuthentication(auth); err != nil {
		return nil, fmt.Errorf("arangodb auth: %w", err)
	}

	arangoClient := arangodb.NewClient(conn)

	b := &Backend{conn: conn, arangoClient: arangoClient, cfg: cfg}
	if err := b.ensureDatabase(ctx); err != nil {
		return nil, err
	}
	if err := b.ensureCollections(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) ensureDatabase(ctx context.Context) error {
	start := time.Now()

	exists, err := b.arangoClient.DatabaseExists(ctx, b.cfg.Database)
	if err != nil {
		return fmt.Errorf("check database exists: %w", err)
	}
	if !exists {
		if _, err := b.arangoClient.CreateDatabase(ctx, b.cfg.Database, nil); err != nil {
			return fmt.Errorf("create database: %w", err)
		}
		slog.InfoContext(ctx, "arangodb database created", "database", b.cfg.Database, "duration_ms", time.Since(start).Milliseconds())
	}

	db, err := b.arangoClient.GetDatabase(ctx, b.cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("get database: %w", err)
	}
	b.db = db
	return nil
}

func (b *Backend) ensureCollections(ctx context.Context) error {
	for _, name := range []string{triplesCollection, blobsCollection} {
		exists, err := b.db.CollectionExists(ctx, name)
		if err != nil {
			return fmt.Errorf("check collection %s exists: %w", name, err)
		}
		if !exists {
			colType := arangodb.CollectionTypeDocument
			if _, err := b.db.CreateCollectionV2(ctx, name, &arangodb.CreateCollectionPropertiesV2{Type: &colType}); err != nil {
				return fmt.Errorf("create collection %s: %w", name, err)
			}
			slog.InfoContext(ctx, "arangodb collection created", "collection", name)
		}
	}
	return nil
}

// tripleDoc is the document shape stored per triple.
type tripleDoc struct {
	Key            string `json:"_key"`
	SubjectKind    int    `json:"subjectKind"`
	SubjectValue   string `json:"subjectValue"`
	PredicateValue string `json:"predicateValue"`
	ObjectKind     int    `json:"objectKind"`
	ObjectValue    string `json:"objectValue"`
	ObjectDatatype string `json:"objectDatatype"`
	Context        string `json:"context"`
}

func (b *Backend) MatchTriples(ctx context.Context, pattern domain.MatchPattern) ([]domain.Triple, error) {
	query := `FOR t IN @@collection FILTER true`
	bindVars := map[string]any{"@collection": triplesCollection}

	if pattern.Subject != nil {
		query += ` FILTER t.subjectValue == @subjectValue`
		bindVars["subjectValue"] = pattern.Subject.Value
	}
	if pattern.Predicate != nil {
		query += ` FILTER t.predicateValue == @predicateValue`
		bindVars["predicateValue"] = pattern.Predicate.Value
	}
	if pattern.Object != nil {
		query += ` FILTER t.objectValue == @objectValue AND t.objectKind == @objectKind`
		bindVars["objectValue"] = pattern.Object.Value
		bindVars["objectKind"] = int(pattern.Object.Kind)
	}
	if pattern.Context != nil {
		query += ` FILTER t.context == @context`
		bindVars["context"] = *pattern.Context
	}
	query += ` RETURN t`

	cursor, err := b.db.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer cursor.Close()

	var out []domain.Triple
	for cursor.HasMore() {
		var doc tripleDoc
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		out = append(out, docToTriple(doc))
	}
	return out, nil
}

func docToTriple(doc tripleDoc) domain.Triple {
	subject := domain.IRI(doc.SubjectValue)
	if domain.TermKind(doc.SubjectKind) == domain.TermLiteral {
		subject = domain.Literal(doc.SubjectValue, "")
	}
	object := domain.IRI(doc.ObjectValue)
	if domain.TermKind(doc.ObjectKind) == domain.TermLiteral {
		object = domain.Literal(doc.ObjectValue, doc.ObjectDatatype)
	}
	return domain.Triple{
		Subject:   subject,
		Predicate: domain.IRI(doc.PredicateValue),
		Object:    object,
		Context:   doc.Context,
	}
}

func (b *Backend) AddTriples(ctx context.Context, triples []domain.Triple) error {
	if len(triples) == 0 {
		return nil
	}
	col, err := b.db.GetCollection(ctx, triplesCollection, nil)
	if err != nil {
		return fmt.Errorf("get collection %s: %w", triplesCollection, err)
	}

	docs := make([]tripleDoc, len(triples))
	for i, t := range triples {
		docs[i] = tripleDoc{
			Key:            tripleKey(t),
			SubjectKind:    int(t.Subject.Kind),
			SubjectValue:   t.Subject.Value,
			PredicateValue: t.Predicate.Value,
			ObjectKind:     int(t.Object.Kind),
			ObjectValue:    t.Object.Value,
			ObjectDatatype: t.Object.Datatype,
			Context:        t.Context,
		}
	}

	reader, err := col.CreateDocuments(ctx, docs)
	if err != nil {
		return fmt.Errorf("create documents: %w", err)
	}
	for {
		if _, readErr := reader.Read(); readErr != nil {
			break // duplicate keys (same triple re-asserted) are expected and ignored
		}
	}
	return nil
}

func (b *Backend) DeleteTriples(ctx context.Context, triples []domain.Triple) error {
	if len(triples) == 0 {
		return nil
	}
	col, err := b.db.GetCollection(ctx, triplesCollection, nil)
	if err != nil {
		return fmt.Errorf("get collection %s: %w", triplesCollection, err)
	}
	keys := make([]string, len(triples))
	for i, t := range triples {
		keys[i] = tripleKey(t)
	}
	if _, err := col.DeleteDocuments(ctx, keys); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

func (b *Backend) StoreBlob(ctx context.Context, key string, payload []byte) error {
	col, err := b.db.GetCollection(ctx, blobsCollection, nil)
	if err != nil {
		return fmt.Errorf("get collection %s: %w", blobsCollection, err)
	}
	doc := map[string]any{"_key": blobKey(key), "payload": payload}
	if _, err := col.CreateDocument(ctx, doc); err != nil {
		// overwrite semantics: remove then re-create
		_, _ = col.DeleteDocument(ctx, blobKey(key))
		if _, err := col.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("store blob: %w", err)
		}
	}
	return nil
}

func (b *Backend) GetBlob(ctx context.Context, key string) ([]byte, bool, error) {
	col, err := b.db.GetCollection(ctx, blobsCollection, nil)
	if err != nil {
		return nil, false, fmt.Errorf("get collection %s: %w", blobsCollection, err)
	}
	var doc struct {
		Payload []byte `json:"payload"`
	}
	_, err = col.ReadDocument(ctx, blobKey(key), &doc)
	if err != nil {
		return nil, false, nil
	}
	return doc.Payload, true, nil
}

func (b *Backend) Close() error { return nil }

func tripleKey(t domain.Triple) string {
	combined := fmt.Sprintf("%d|%s|%s|%d|%s|%s|%s", t.Subject.Kind, t.Subject.Value, t.Predicate.Value, t.Object.Kind, t.Object.Value, t.Object.Datatype, t.Context)
	hash := md5.Sum([]byte(combined))
	return hex.EncodeToString(hash[:])
}

func blobKey(key string) string {
	hash := md5.Sum([]byte(key))
	return hex.EncodeToString(hash[:])
}
