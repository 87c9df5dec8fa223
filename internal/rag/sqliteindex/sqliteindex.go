// Package sqliteindex provides a SQLite-backed implementation of rag.Index.
//
// Each collection is a set of rows in one database file. Embeddings and
// metadata maps are stored as deterministic CBOR blobs; the filter columns
// doc_type and category_primary are also stored as plain columns so the
// playbook and category constraints are applied in SQL. Similarity is
// computed in Go over the filtered rows.
package sqliteindex

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/linnemanlabs/soctriage/internal/rag"
)

var tracer = otel.Tracer("github.com/linnemanlabs/soctriage/internal/rag/sqliteindex")

//go:embed schema.sql
var schema string

// FileName is the database file created inside the index directory.
const FileName = "index.db"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("sqliteindex: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		// metadata values decode into map[string]any, never map[any]any
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("sqliteindex: cbor decoder: " + err.Error())
	}
}

// Index is a rag.Index stored in a SQLite database.
type Index struct {
	pool *sqlitex.Pool
	path string
}

// Open creates dir if needed and opens (or creates) the index database in it.
func Open(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	path := filepath.Join(dir, FileName)

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    max(runtime.NumCPU(), 4),
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Index{pool: pool, path: path}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (ix *Index) Path() string { return ix.path }

// Close closes every pooled connection.
func (ix *Index) Close() error { return ix.pool.Close() }

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Replace deletes every row of info.Name and inserts records in one
// IMMEDIATE transaction, so readers see either the old or the new
// collection.
func (ix *Index) Replace(ctx context.Context, info rag.CollectionInfo, records []rag.Record) (err error) {
	ctx, span := startSpan(ctx, "sqliteindex.Replace", "REPLACE")
	defer span.End()
	span.SetAttributes(attribute.String("rag.collection", info.Name), attribute.Int("rag.records", len(records)))

	conn, err := ix.pool.Take(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("take conn: %w", err))
	}
	defer ix.pool.Put(conn)

	if err := ix.replace(conn, info, records); err != nil {
		return fail(span, err)
	}
	return nil
}

func (ix *Index) replace(conn *sqlite.Conn, info rag.CollectionInfo, records []rag.Record) (err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if err := sqlitex.Execute(conn, `DELETE FROM chunks WHERE collection = ?`, &sqlitex.ExecOptions{
		Args: []any{info.Name},
	}); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	err = sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO collections
			(name, run_id, embedding_model, dimensions, documents, chunks, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			info.Name, info.RunID, info.EmbeddingModel, info.Dimensions,
			info.Documents, info.Chunks, info.CreatedAt.UTC().UnixNano(),
		}})
	if err != nil {
		return fmt.Errorf("write collection: %w", err)
	}

	for seq, r := range records {
		meta, err := encMode.Marshal(map[string]any(r.Metadata))
		if err != nil {
			return fmt.Errorf("encode metadata %s: %w", r.ChunkID, err)
		}
		vec, err := encMode.Marshal(r.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding %s: %w", r.ChunkID, err)
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO chunks
				(collection, seq, chunk_id, doc_id, doc_type, category_primary, text, metadata, embedding)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				info.Name, seq, r.ChunkID,
				r.Metadata.String(rag.KeyDocID),
				r.Metadata.String(rag.KeyDocType),
				r.Metadata.String(rag.KeyCategory),
				r.Text, meta, vec,
			}})
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", r.ChunkID, err)
		}
	}
	return nil
}

// Search loads the rows of collection that satisfy the column filters,
// applies any remaining metadata constraints and ranks them against query.
func (ix *Index) Search(ctx context.Context, collection string, query []float64, filter rag.Filter, k int) ([]rag.Hit, error) {
	ctx, span := startSpan(ctx, "sqliteindex.Search", "SELECT")
	defer span.End()
	span.SetAttributes(attribute.String("rag.collection", collection), attribute.Int("rag.k", k))

	conn, err := ix.pool.Take(ctx)
	if err != nil {
		return nil, fail(span, fmt.Errorf("take conn: %w", err))
	}
	defer ix.pool.Put(conn)

	exists := false
	err = sqlitex.Execute(conn, `SELECT 1 FROM collections WHERE name = ?`, &sqlitex.ExecOptions{
		Args:       []any{collection},
		ResultFunc: func(*sqlite.Stmt) error { exists = true; return nil },
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("lookup collection: %w", err))
	}
	if !exists {
		return nil, fail(span, rag.ErrCollectionNotFound)
	}

	stmtSQL, args := buildSearchQuery(collection, filter)
	var records []rag.Record
	err = sqlitex.Execute(conn, stmtSQL, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			r, err := scanChunk(stmt)
			if err != nil {
				return err
			}
			records = append(records, r)
			return nil
		},
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("load chunks: %w", err))
	}

	hits := rag.RankRecords(records, query, filter, k)
	span.SetAttributes(attribute.Int("rag.candidates", len(records)), attribute.Int("rag.hits", len(hits)))
	return hits, nil
}

// buildSearchQuery pushes the doc_type and category_primary constraints
// into SQL. Other keys are left for rag.Filter.Matches.
func buildSearchQuery(collection string, filter rag.Filter) (string, []any) {
	q := `SELECT chunk_id, text, metadata, embedding FROM chunks WHERE collection = ?`
	args := []any{collection}
	if v, ok := filter[rag.KeyDocType]; ok {
		q += ` AND doc_type = ?`
		args = append(args, v)
	}
	if v, ok := filter[rag.KeyCategory]; ok {
		q += ` AND category_primary = ?`
		args = append(args, v)
	}
	return q + ` ORDER BY seq`, args
}

func scanChunk(stmt *sqlite.Stmt) (rag.Record, error) {
	r := rag.Record{
		ChunkID: stmt.ColumnText(0),
		Text:    stmt.ColumnText(1),
	}

	metaBlob := make([]byte, stmt.ColumnLen(2))
	stmt.ColumnBytes(2, metaBlob)
	var meta map[string]any
	if err := decMode.Unmarshal(metaBlob, &meta); err != nil {
		return rag.Record{}, fmt.Errorf("decode metadata %s: %w", r.ChunkID, err)
	}
	r.Metadata = rag.Metadata(meta)

	vecBlob := make([]byte, stmt.ColumnLen(3))
	stmt.ColumnBytes(3, vecBlob)
	if err := decMode.Unmarshal(vecBlob, &r.Embedding); err != nil {
		return rag.Record{}, fmt.Errorf("decode embedding %s: %w", r.ChunkID, err)
	}
	return r, nil
}

// Collection returns the info recorded by the last Replace of name.
func (ix *Index) Collection(ctx context.Context, name string) (rag.CollectionInfo, bool, error) {
	ctx, span := startSpan(ctx, "sqliteindex.Collection", "SELECT")
	defer span.End()

	conn, err := ix.pool.Take(ctx)
	if err != nil {
		return rag.CollectionInfo{}, false, fail(span, fmt.Errorf("take conn: %w", err))
	}
	defer ix.pool.Put(conn)

	var (
		info  rag.CollectionInfo
		found bool
	)
	err = sqlitex.Execute(conn,
		`SELECT name, run_id, embedding_model, dimensions, documents, chunks, created_at
		 FROM collections WHERE name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				info = rag.CollectionInfo{
					Name:           stmt.ColumnText(0),
					RunID:          stmt.ColumnText(1),
					EmbeddingModel: stmt.ColumnText(2),
					Dimensions:     stmt.ColumnInt(3),
					Documents:      stmt.ColumnInt(4),
					Chunks:         stmt.ColumnInt(5),
					CreatedAt:      time.Unix(0, stmt.ColumnInt64(6)).UTC(),
				}
				return nil
			},
		})
	if err != nil {
		return rag.CollectionInfo{}, false, fail(span, fmt.Errorf("load collection: %w", err))
	}
	return info, found, nil
}
