// Package postgres implements internal/store.Store against Postgres
// via pgx, using pool-construction and migration-in-constructor,
// upsert-by-ON-CONFLICT conventions.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kieranveyl/knowledgevault/internal/store"
	"github.com/kieranveyl/knowledgevault/internal/vault"
)

// Store implements store.Store against a Postgres pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, applies the schema, and returns a ready Store.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &vault.StorageIOError{Cause: err}
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &vault.StorageIOError{Cause: err}
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, &vault.StorageIOError{Cause: err}
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS notes (
  id text PRIMARY KEY,
  title text NOT NULL,
  tags text[] NOT NULL DEFAULT '{}',
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL,
  current_version_id text NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS drafts (
  note_id text PRIMARY KEY REFERENCES notes(id) ON DELETE CASCADE,
  body_md text NOT NULL,
  tags text[] NOT NULL DEFAULT '{}',
  autosave_ts timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS versions (
  id text PRIMARY KEY,
  note_id text NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
  body_md text NOT NULL,
  tags text[] NOT NULL DEFAULT '{}',
  content_hash text NOT NULL,
  created_at timestamptz NOT NULL,
  parent_version_id text NOT NULL DEFAULT '',
  label text NOT NULL
);
CREATE INDEX IF NOT EXISTS versions_note_id_idx ON versions (note_id, created_at);

CREATE TABLE IF NOT EXISTS collections (
  id text PRIMARY KEY,
  name text NOT NULL,
  description text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS collections_name_ci_uidx ON collections (lower(name));

CREATE TABLE IF NOT EXISTS publications (
  id text PRIMARY KEY,
  note_id text NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
  version_id text NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
  published_at timestamptz NOT NULL,
  label text NOT NULL
);

CREATE TABLE IF NOT EXISTS publication_collections (
  publication_id text NOT NULL REFERENCES publications(id) ON DELETE CASCADE,
  collection_id text NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
  PRIMARY KEY (publication_id, collection_id)
);

CREATE TABLE IF NOT EXISTS note_collections (
  note_id text NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
  collection_id text NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
  PRIMARY KEY (note_id, collection_id)
);

CREATE TABLE IF NOT EXISTS idempotency_records (
  note_id text NOT NULL,
  client_token text NOT NULL,
  version_id text NOT NULL,
  created_at timestamptz NOT NULL,
  PRIMARY KEY (note_id, client_token)
);
`
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return &vault.StorageIOError{Cause: err}
	}
	return nil
}

func (s *Store) CreateNote(ctx context.Context, n vault.Note) (vault.Note, error) {
	const q = `INSERT INTO notes (id, title, tags, created_at, updated_at, current_version_id)
		VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := s.pool.Exec(ctx, q, n.ID, n.Title, n.Tags, n.CreatedAt, n.UpdatedAt, n.CurrentVersionID)
	if err != nil {
		if isUniqueViolation(err) {
			return vault.Note{}, &vault.ConflictError{Message: "note already exists: " + n.ID}
		}
		return vault.Note{}, &vault.StorageIOError{Cause: err}
	}
	return n, nil
}

func (s *Store) GetNote(ctx context.Context, id string) (vault.Note, error) {
	const q = `SELECT id, title, tags, created_at, updated_at, current_version_id FROM notes WHERE id = $1`
	var n vault.Note
	err := s.pool.QueryRow(ctx, q, id).Scan(&n.ID, &n.Title, &n.Tags, &n.CreatedAt, &n.UpdatedAt, &n.CurrentVersionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return vault.Note{}, &vault.NotFound{Entity: "note", ID: id}
		}
		return vault.Note{}, &vault.StorageIOError{Cause: err}
	}
	return n, nil
}

func (s *Store) ListNotes(ctx context.Context, page, pageSize int) ([]vault.Note, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM notes`).Scan(&total); err != nil {
		return nil, 0, &vault.StorageIOError{Cause: err}
	}
	limit, offset := pageWindow(page, pageSize)
	rows, err := s.pool.Query(ctx, `SELECT id, title, tags, created_at, updated_at, current_version_id
		FROM notes ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, &vault.StorageIOError{Cause: err}
	}
	defer rows.Close()

	var out []vault.Note
	for rows.Next() {
		var n vault.Note
		if err := rows.Scan(&n.ID, &n.Title, &n.Tags, &n.CreatedAt, &n.UpdatedAt, &n.CurrentVersionID); err != nil {
			return nil, 0, &vault.StorageIOError{Cause: err}
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, &vault.StorageIOError{Cause: err}
	}
	return out, total, nil
}

func (s *Store) UpdateNote(ctx context.Context, n vault.Note) (vault.Note, error) {
	const q = `UPDATE notes SET title=$2, tags=$3, updated_at=$4, current_version_id=$5 WHERE id=$1`
	tag, err := s.pool.Exec(ctx, q, n.ID, n.Title, n.Tags, n.UpdatedAt, n.CurrentVersionID)
	if err != nil {
		return vault.Note{}, &vault.StorageIOError{Cause: err}
	}
	if tag.RowsAffected() == 0 {
		return vault.Note{}, &vault.NotFound{Entity: "note", ID: n.ID}
	}
	return n, nil
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notes WHERE id = $1`, id)
	if err != nil {
		return &vault.StorageIOError{Cause: err}
	}
	if tag.RowsAffected() == 0 {
		return &vault.NotFound{Entity: "note", ID: id}
	}
	return nil
}

func (s *Store) SaveDraft(ctx context.Context, d vault.Draft) (vault.Draft, error) {
	const q = `INSERT INTO drafts (note_id, body_md, tags, autosave_ts) VALUES ($1,$2,$3,$4)
		ON CONFLICT (note_id) DO UPDATE SET body_md=EXCLUDED.body_md, tags=EXCLUDED.tags, autosave_ts=EXCLUDED.autosave_ts`
	_, err := s.pool.Exec(ctx, q, d.NoteID, d.BodyMD, d.Tags, d.AutosaveTS)
	if err != nil {
		if isForeignKeyViolation(err) {
			return vault.Draft{}, &vault.NotFound{Entity: "note", ID: d.NoteID}
		}
		return vault.Draft{}, &vault.StorageIOError{Cause: err}
	}
	return d, nil
}

func (s *Store) GetDraft(ctx context.Context, noteID string) (vault.Draft, error) {
	const q = `SELECT note_id, body_md, tags, autosave_ts FROM drafts WHERE note_id = $1`
	var d vault.Draft
	err := s.pool.QueryRow(ctx, q, noteID).Scan(&d.NoteID, &d.BodyMD, &d.Tags, &d.AutosaveTS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return vault.Draft{}, &vault.NotFound{Entity: "draft", ID: noteID}
		}
		return vault.Draft{}, &vault.StorageIOError{Cause: err}
	}
	return d, nil
}

func (s *Store) HasDraft(ctx context.Context, noteID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM drafts WHERE note_id=$1)`, noteID).Scan(&exists)
	if err != nil {
		return false, &vault.StorageIOError{Cause: err}
	}
	return exists, nil
}

func (s *Store) DeleteDraft(ctx context.Context, noteID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM drafts WHERE note_id = $1`, noteID)
	if err != nil {
		return &vault.StorageIOError{Cause: err}
	}
	return nil
}

func (s *Store) CreateVersion(ctx context.Context, v vault.Version) (vault.Version, error) {
	const q = `INSERT INTO versions (id, note_id, body_md, tags, content_hash, created_at, parent_version_id, label)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := s.pool.Exec(ctx, q, v.ID, v.NoteID, v.BodyMD, v.Tags, v.ContentHash, v.CreatedAt, v.ParentVersionID, string(v.Label))
	if err != nil {
		if isUniqueViolation(err) {
			return vault.Version{}, &vault.ConflictError{Message: "version already exists: " + v.ID}
		}
		return vault.Version{}, &vault.StorageIOError{Cause: err}
	}
	return v, nil
}

func (s *Store) GetVersion(ctx context.Context, id string) (vault.Version, error) {
	const q = `SELECT id, note_id, body_md, tags, content_hash, created_at, parent_version_id, label FROM versions WHERE id=$1`
	var v vault.Version
	var label string
	err := s.pool.QueryRow(ctx, q, id).Scan(&v.ID, &v.NoteID, &v.BodyMD, &v.Tags, &v.ContentHash, &v.CreatedAt, &v.ParentVersionID, &label)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return vault.Version{}, &vault.NotFound{Entity: "version", ID: id}
		}
		return vault.Version{}, &vault.StorageIOError{Cause: err}
	}
	v.Label = vault.Label(label)
	return v, nil
}

func (s *Store) ListVersions(ctx context.Context, noteID string, page, pageSize int) ([]vault.Version, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM versions WHERE note_id=$1`, noteID).Scan(&total); err != nil {
		return nil, 0, &vault.StorageIOError{Cause: err}
	}
	limit, offset := pageWindow(page, pageSize)
	rows, err := s.pool.Query(ctx, `SELECT id, note_id, body_md, tags, content_hash, created_at, parent_version_id, label
		FROM versions WHERE note_id=$1 ORDER BY created_at LIMIT $2 OFFSET $3`, noteID, limit, offset)
	if err != nil {
		return nil, 0, &vault.StorageIOError{Cause: err}
	}
	defer rows.Close()

	var out []vault.Version
	for rows.Next() {
		var v vault.Version
		var label string
		if err := rows.Scan(&v.ID, &v.NoteID, &v.BodyMD, &v.Tags, &v.ContentHash, &v.CreatedAt, &v.ParentVersionID, &label); err != nil {
			return nil, 0, &vault.StorageIOError{Cause: err}
		}
		v.Label = vault.Label(label)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, &vault.StorageIOError{Cause: err}
	}
	return out, total, nil
}

func (s *Store) CreatePublication(ctx context.Context, p vault.Publication) (vault.Publication, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return vault.Publication{}, &vault.StorageIOError{Cause: err}
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO publications (id, note_id, version_id, published_at, label) VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.NoteID, p.VersionID, p.PublishedAt, string(p.Label))
	if err != nil {
		return vault.Publication{}, &vault.StorageIOError{Cause: err}
	}
	for _, c := range p.CollectionIDs {
		_, err = tx.Exec(ctx, `INSERT INTO publication_collections (publication_id, collection_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING`, p.ID, c)
		if err != nil {
			return vault.Publication{}, &vault.StorageIOError{Cause: err}
		}
		_, err = tx.Exec(ctx, `INSERT INTO note_collections (note_id, collection_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING`, p.NoteID, c)
		if err != nil {
			return vault.Publication{}, &vault.StorageIOError{Cause: err}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return vault.Publication{}, &vault.StorageIOError{Cause: err}
	}
	return p, nil
}

func (s *Store) GetPublicationByVersion(ctx context.Context, versionID string) (vault.Publication, error) {
	const q = `SELECT p.id, p.note_id, p.version_id, p.published_at, p.label,
			COALESCE(array_agg(pc.collection_id) FILTER (WHERE pc.collection_id IS NOT NULL), '{}')
		FROM publications p
		LEFT JOIN publication_collections pc ON pc.publication_id = p.id
		WHERE p.version_id = $1
		GROUP BY p.id
		ORDER BY p.published_at DESC
		LIMIT 1`
	var p vault.Publication
	var label string
	err := s.pool.QueryRow(ctx, q, versionID).Scan(&p.ID, &p.NoteID, &p.VersionID, &p.PublishedAt, &label, &p.CollectionIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return vault.Publication{}, &vault.NotFound{Entity: "publication", ID: versionID}
		}
		return vault.Publication{}, &vault.StorageIOError{Cause: err}
	}
	p.Label = vault.Label(label)
	return p, nil
}

func (s *Store) CreateCollection(ctx context.Context, c vault.Collection) (vault.Collection, error) {
	const q = `INSERT INTO collections (id, name, description, created_at) VALUES ($1,$2,$3,$4)`
	_, err := s.pool.Exec(ctx, q, c.ID, c.Name, c.Description, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return vault.Collection{}, &vault.ConflictError{Message: "collection name already in use: " + c.Name}
		}
		return vault.Collection{}, &vault.StorageIOError{Cause: err}
	}
	return c, nil
}

func (s *Store) GetCollection(ctx context.Context, id string) (vault.Collection, error) {
	const q = `SELECT id, name, description, created_at FROM collections WHERE id=$1`
	var c vault.Collection
	err := s.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return vault.Collection{}, &vault.NotFound{Entity: "collection", ID: id}
		}
		return vault.Collection{}, &vault.StorageIOError{Cause: err}
	}
	return c, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]vault.Collection, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description, created_at FROM collections ORDER BY name`)
	if err != nil {
		return nil, &vault.StorageIOError{Cause: err}
	}
	defer rows.Close()

	var out []vault.Collection
	for rows.Next() {
		var c vault.Collection
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, &vault.StorageIOError{Cause: err}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &vault.StorageIOError{Cause: err}
	}
	return out, nil
}

func (s *Store) LookupCollectionByName(ctx context.Context, name string) (vault.Collection, error) {
	const q = `SELECT id, name, description, created_at FROM collections WHERE lower(name) = lower($1)`
	var c vault.Collection
	err := s.pool.QueryRow(ctx, q, name).Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return vault.Collection{}, &vault.NotFound{Entity: "collection", ID: name}
		}
		return vault.Collection{}, &vault.StorageIOError{Cause: err}
	}
	return c, nil
}

func (s *Store) AttachCollection(ctx context.Context, noteID, collectionID string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO note_collections (note_id, collection_id) VALUES ($1,$2)
		ON CONFLICT DO NOTHING`, noteID, collectionID)
	if err != nil {
		return &vault.StorageIOError{Cause: err}
	}
	return nil
}

func (s *Store) DetachCollection(ctx context.Context, noteID, collectionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM note_collections WHERE note_id=$1 AND collection_id=$2`, noteID, collectionID)
	if err != nil {
		return &vault.StorageIOError{Cause: err}
	}
	return nil
}

func (s *Store) LookupIdempotency(ctx context.Context, noteID, clientToken string) (store.IdempotencyRecord, bool, error) {
	const q = `SELECT note_id, client_token, version_id, extract(epoch from created_at)::bigint
		FROM idempotency_records WHERE note_id=$1 AND client_token=$2`
	var rec store.IdempotencyRecord
	err := s.pool.QueryRow(ctx, q, noteID, clientToken).Scan(&rec.NoteID, &rec.ClientToken, &rec.VersionID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.IdempotencyRecord{}, false, nil
		}
		return store.IdempotencyRecord{}, false, &vault.StorageIOError{Cause: err}
	}
	return rec, true, nil
}

func (s *Store) SaveIdempotency(ctx context.Context, rec store.IdempotencyRecord) error {
	const q = `INSERT INTO idempotency_records (note_id, client_token, version_id, created_at)
		VALUES ($1,$2,$3, to_timestamp($4))
		ON CONFLICT (note_id, client_token) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, rec.NoteID, rec.ClientToken, rec.VersionID, rec.CreatedAt)
	if err != nil {
		return &vault.StorageIOError{Cause: err}
	}
	return nil
}

// Publish runs the version snapshot, note pointer update, publication
// (with its collection rows), and idempotency record as one
// transaction with row-level locks (§4.H, §5): a failure at any step
// rolls the whole write set back rather than leaving, say, a Version
// with no matching Publication.
func (s *Store) Publish(ctx context.Context, w store.PublishWrite) (vault.Version, vault.Publication, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return vault.Version{}, vault.Publication{}, &vault.StorageIOError{Cause: err}
	}
	defer tx.Rollback(ctx)

	v := w.Version
	_, err = tx.Exec(ctx, `INSERT INTO versions (id, note_id, body_md, tags, content_hash, created_at, parent_version_id, label)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		v.ID, v.NoteID, v.BodyMD, v.Tags, v.ContentHash, v.CreatedAt, v.ParentVersionID, string(v.Label))
	if err != nil {
		if isUniqueViolation(err) {
			return vault.Version{}, vault.Publication{}, &vault.ConflictError{Message: "version already exists: " + v.ID}
		}
		return vault.Version{}, vault.Publication{}, &vault.StorageIOError{Cause: err}
	}

	n := w.Note
	tag, err := tx.Exec(ctx, `UPDATE notes SET title=$2, tags=$3, updated_at=$4, current_version_id=$5 WHERE id=$1`,
		n.ID, n.Title, n.Tags, n.UpdatedAt, n.CurrentVersionID)
	if err != nil {
		return vault.Version{}, vault.Publication{}, &vault.StorageIOError{Cause: err}
	}
	if tag.RowsAffected() == 0 {
		return vault.Version{}, vault.Publication{}, &vault.NotFound{Entity: "note", ID: n.ID}
	}

	p := w.Publication
	_, err = tx.Exec(ctx, `INSERT INTO publications (id, note_id, version_id, published_at, label) VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.NoteID, p.VersionID, p.PublishedAt, string(p.Label))
	if err != nil {
		return vault.Version{}, vault.Publication{}, &vault.StorageIOError{Cause: err}
	}
	for _, c := range p.CollectionIDs {
		_, err = tx.Exec(ctx, `INSERT INTO publication_collections (publication_id, collection_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING`, p.ID, c)
		if err != nil {
			return vault.Version{}, vault.Publication{}, &vault.StorageIOError{Cause: err}
		}
		_, err = tx.Exec(ctx, `INSERT INTO note_collections (note_id, collection_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING`, p.NoteID, c)
		if err != nil {
			return vault.Version{}, vault.Publication{}, &vault.StorageIOError{Cause: err}
		}
	}

	if w.Idempotency.ClientToken != "" {
		_, err = tx.Exec(ctx, `INSERT INTO idempotency_records (note_id, client_token, version_id, created_at)
			VALUES ($1,$2,$3, to_timestamp($4))
			ON CONFLICT (note_id, client_token) DO NOTHING`,
			w.Idempotency.NoteID, w.Idempotency.ClientToken, w.Idempotency.VersionID, w.Idempotency.CreatedAt)
		if err != nil {
			return vault.Version{}, vault.Publication{}, &vault.StorageIOError{Cause: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return vault.Version{}, vault.Publication{}, &vault.StorageIOError{Cause: err}
	}
	return v, p, nil
}

func pageWindow(page, pageSize int) (limit, offset int) {
	if pageSize <= 0 {
		pageSize = 50
	}
	return pageSize, page * pageSize
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
