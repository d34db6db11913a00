package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edgegeo/aicache/cachekey"
	"github.com/edgegeo/aicache/idgen"
)

// ErrNotFound is returned by stage updates targeting a missing page.
var ErrNotFound = errors.New("catalog: page not found")

// Store is the data access layer for pages.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
}

// NewStore creates a Store from an already-opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, newID: idgen.Default}
}

// Init creates the pages table.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Insert adds a URL to a client's catalog. Re-importing a URL the client
// already has is a no-op: the existing page is returned with created=false
// and nothing about it changes.
func (s *Store) Insert(ctx context.Context, clientID, url string) (page *Page, created bool, err error) {
	hash := cachekey.URLFingerprint(url)
	existing, err := s.GetByHash(ctx, clientID, hash)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := time.Now().UnixMilli()
	p := &Page{
		ID:        s.newID(),
		ClientID:  clientID,
		URL:       url,
		URLHash:   hash,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pages (id, client_id, url, url_hash, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ClientID, p.URL, p.URLHash, p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		// Lost a race with a concurrent import of the same URL.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			existing, gerr := s.GetByHash(ctx, clientID, hash)
			if gerr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("catalog: insert page: %w", err)
	}
	return p, true, nil
}

// Get retrieves a page by ID. Returns nil, nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Page, error) {
	row := s.db.QueryRowContext(ctx, selectPages+` WHERE id = ?`, id)
	return scanPage(row)
}

// GetByURL retrieves a client's page by URL. Returns nil, nil when absent.
func (s *Store) GetByURL(ctx context.Context, clientID, url string) (*Page, error) {
	return s.GetByHash(ctx, clientID, cachekey.URLFingerprint(url))
}

// GetByHash retrieves a client's page by URL fingerprint.
func (s *Store) GetByHash(ctx context.Context, clientID, urlHash string) (*Page, error) {
	row := s.db.QueryRowContext(ctx,
		selectPages+` WHERE client_id = ? AND url_hash = ?`, clientID, urlHash)
	return scanPage(row)
}

// ListByClient returns a client's pages, oldest first, optionally capped.
func (s *Store) ListByClient(ctx context.Context, clientID string, limit int) ([]*Page, error) {
	q := selectPages + ` WHERE client_id = ? ORDER BY created_at ASC`
	args := []any{clientID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryPages(ctx, q, args...)
}

// FetchCandidates returns pages that have never been fetched successfully.
func (s *Store) FetchCandidates(ctx context.Context, clientID string, limit int) ([]*Page, error) {
	q := selectPages + ` WHERE client_id = ? AND fetched_at = 0 ORDER BY created_at ASC`
	args := []any{clientID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryPages(ctx, q, args...)
}

// RewriteCandidates returns fetched pages without generated HTML.
func (s *Store) RewriteCandidates(ctx context.Context, clientID string, limit int) ([]*Page, error) {
	q := selectPages + ` WHERE client_id = ? AND fetched_at != 0 AND generated_html = '' ORDER BY created_at ASC`
	args := []any{clientID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryPages(ctx, q, args...)
}

// PublishCandidates returns rewritten pages, whether or not already live.
// Re-publishing a live page overwrites its KV value and bumps the version.
func (s *Store) PublishCandidates(ctx context.Context, clientID string, limit int) ([]*Page, error) {
	q := selectPages + ` WHERE client_id = ? AND generated_html != '' ORDER BY created_at ASC`
	args := []any{clientID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryPages(ctx, q, args...)
}

// PublishedPages returns pages currently live in the edge KV.
func (s *Store) PublishedPages(ctx context.Context, clientID string) ([]*Page, error) {
	return s.queryPages(ctx,
		selectPages+` WHERE client_id = ? AND kv_uploaded_at != 0 ORDER BY created_at ASC`, clientID)
}

// ApplyFetchSuccess records fetched content in one statement: raw content,
// its hash, and the source that produced it land together, the attempt
// counter advances, and any prior error is cleared.
func (s *Store) ApplyFetchSuccess(ctx context.Context, id, rawContent, contentHash, source string) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE pages SET raw_content=?, content_hash=?, fetched_at=?,
			fetch_attempts=fetch_attempts+1, fetch_error='', fetch_source=?, updated_at=?
		WHERE id=?`,
		rawContent, contentHash, now, source, now, id)
	if err != nil {
		return fmt.Errorf("catalog: apply fetch: %w", err)
	}
	return requireRow(res)
}

// ApplyFetchFailure advances the attempt counter and records the error.
// Existing content is left alone so a failed refetch never destroys a
// previously good fetch.
func (s *Store) ApplyFetchFailure(ctx context.Context, id, fetchErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pages SET fetch_attempts=fetch_attempts+1, fetch_error=?, updated_at=?
		WHERE id=?`,
		fetchErr, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("catalog: apply fetch failure: %w", err)
	}
	return requireRow(res)
}

// TouchFetch bumps the attempt counter without changing content. Used when
// a fetch returns content identical to what is already stored.
func (s *Store) TouchFetch(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE pages SET fetch_attempts=fetch_attempts+1, fetched_at=?, fetch_error='', updated_at=?
		WHERE id=?`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("catalog: touch fetch: %w", err)
	}
	return requireRow(res)
}

// ApplyRewrite records both rewrite outputs in one statement so the page
// is never half-rewritten.
func (s *Store) ApplyRewrite(ctx context.Context, id, cleaned, html string) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE pages SET cleaned_content=?, generated_html=?, rewritten_at=?, updated_at=?
		WHERE id=?`,
		cleaned, html, now, now, id)
	if err != nil {
		return fmt.Errorf("catalog: apply rewrite: %w", err)
	}
	return requireRow(res)
}

// ApplyPublish records a successful KV write and bumps the version. The
// guard on generated_html keeps a publish from landing on a page whose
// rewrite was cleared concurrently.
func (s *Store) ApplyPublish(ctx context.Context, id, kvKey string) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE pages SET kv_key=?, kv_uploaded_at=?, version=version+1, updated_at=?
		WHERE id=? AND generated_html != ''`,
		kvKey, now, now, id)
	if err != nil {
		return fmt.Errorf("catalog: apply publish: %w", err)
	}
	return requireRow(res)
}

// ClearPublish marks a page as no longer live. The version is untouched;
// it only counts successful publishes.
func (s *Store) ClearPublish(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pages SET kv_key='', kv_uploaded_at=0, updated_at=? WHERE id=?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("catalog: clear publish: %w", err)
	}
	return requireRow(res)
}

// Delete removes a page from the catalog.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("catalog: delete page: %w", err)
	}
	return requireRow(res)
}

// Counts returns the stage summary for a client.
func (s *Store) Counts(ctx context.Context, clientID string) (StageCounts, error) {
	var c StageCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN fetched_at != 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN generated_html != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kv_uploaded_at != 0 THEN 1 ELSE 0 END), 0)
		FROM pages WHERE client_id = ?`, clientID).
		Scan(&c.Total, &c.Fetched, &c.Rewritten, &c.Published)
	if err != nil {
		return StageCounts{}, fmt.Errorf("catalog: counts: %w", err)
	}
	return c, nil
}

const selectPages = `
	SELECT id, client_id, url, url_hash,
		raw_content, content_hash, fetched_at, fetch_attempts, fetch_error, fetch_source,
		cleaned_content, generated_html, rewritten_at,
		kv_key, kv_uploaded_at, version,
		created_at, updated_at
	FROM pages`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInto(sc rowScanner) (*Page, error) {
	var p Page
	err := sc.Scan(
		&p.ID, &p.ClientID, &p.URL, &p.URLHash,
		&p.RawContent, &p.ContentHash, &p.FetchedAt, &p.FetchAttempts, &p.FetchError, &p.FetchSource,
		&p.CleanedContent, &p.GeneratedHTML, &p.RewrittenAt,
		&p.KVKey, &p.KVUploadedAt, &p.Version,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPage(row *sql.Row) (*Page, error) {
	p, err := scanInto(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: scan page: %w", err)
	}
	return p, nil
}

func (s *Store) queryPages(ctx context.Context, query string, args ...any) ([]*Page, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: query pages: %w", err)
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		p, err := scanInto(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
