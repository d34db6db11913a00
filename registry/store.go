package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edgegeo/aicache/idgen"
)

// ErrConflict is returned when a client name or domain is already in use.
var ErrConflict = errors.New("registry: name or domain already in use")

// ErrNotFound is returned when no client matches the given identifier.
var ErrNotFound = errors.New("registry: client not found")

// Store is the data access layer for clients.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
}

// NewStore creates a Store from an already-opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, newID: idgen.Default}
}

// Init creates the clients table.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Create inserts a new client. The ID is generated when empty.
// Returns ErrConflict when the name or domain is taken.
func (s *Store) Create(ctx context.Context, c *Client) error {
	if c.ID == "" {
		c.ID = s.newID()
	}
	now := time.Now().UnixMilli()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, domain, is_active,
			edge_account_id, edge_kv_namespace_id, edge_zone_id,
			edge_api_token, llm_api_key,
			worker_script_name, worker_deployed_at, worker_route_id,
			created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, c.Domain, boolToInt(c.Active),
		c.EdgeAccountID, c.EdgeKVNamespaceID, c.EdgeZoneID,
		c.EdgeAPIToken, c.LLMAPIKey,
		c.WorkerScriptName, c.WorkerDeployedAt, c.WorkerRouteID,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("registry: create client: %w", err)
	}
	return nil
}

// Get retrieves a client by ID. Returns nil, nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Client, error) {
	row := s.db.QueryRowContext(ctx, selectClients+` WHERE id = ?`, id)
	return scanClient(row)
}

// GetByDomain retrieves a client by its domain. Returns nil, nil when absent.
func (s *Store) GetByDomain(ctx context.Context, domain string) (*Client, error) {
	row := s.db.QueryRowContext(ctx, selectClients+` WHERE domain = ?`, domain)
	return scanClient(row)
}

// List returns clients, optionally only active ones, newest first.
func (s *Store) List(ctx context.Context, activeOnly bool) ([]*Client, error) {
	q := selectClients
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("registry: list clients: %w", err)
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		c, err := scanClientRows(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// Update overwrites a client's mutable fields (name, domain, active flag,
// edge configuration, sealed credentials). Returns ErrConflict on a
// name/domain collision and ErrNotFound when the row is gone.
func (s *Store) Update(ctx context.Context, c *Client) error {
	c.UpdatedAt = time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE clients SET name=?, domain=?, is_active=?,
			edge_account_id=?, edge_kv_namespace_id=?, edge_zone_id=?,
			edge_api_token=?, llm_api_key=?, updated_at=?
		WHERE id=?`,
		c.Name, c.Domain, boolToInt(c.Active),
		c.EdgeAccountID, c.EdgeKVNamespaceID, c.EdgeZoneID,
		c.EdgeAPIToken, c.LLMAPIKey, c.UpdatedAt, c.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("registry: update client: %w", err)
	}
	return requireRow(res)
}

// SetActive toggles the active flag. Deactivation is the normal lifecycle
// end; Delete exists for operator-initiated hard removal.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET is_active=?, updated_at=? WHERE id=?`,
		boolToInt(active), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("registry: set active: %w", err)
	}
	return requireRow(res)
}

// SetWorkerDeployment records a deployed worker script (and optional route).
func (s *Store) SetWorkerDeployment(ctx context.Context, id, scriptName, routeID string) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET worker_script_name=?, worker_deployed_at=?, worker_route_id=?, updated_at=?
		WHERE id=?`,
		scriptName, now, routeID, now, id)
	if err != nil {
		return fmt.Errorf("registry: set worker deployment: %w", err)
	}
	return requireRow(res)
}

// ClearWorkerDeployment removes the worker deployment record.
func (s *Store) ClearWorkerDeployment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET worker_script_name='', worker_deployed_at=0, worker_route_id='', updated_at=?
		WHERE id=?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("registry: clear worker deployment: %w", err)
	}
	return requireRow(res)
}

// Delete hard-deletes a client. Foreign keys cascade to pages, visits,
// orders, and the analytics snapshot.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("registry: delete client: %w", err)
	}
	return requireRow(res)
}

const selectClients = `
	SELECT id, name, domain, is_active,
		edge_account_id, edge_kv_namespace_id, edge_zone_id,
		edge_api_token, llm_api_key,
		worker_script_name, worker_deployed_at, worker_route_id,
		created_at, updated_at
	FROM clients`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInto(sc rowScanner) (*Client, error) {
	var c Client
	var active int
	err := sc.Scan(
		&c.ID, &c.Name, &c.Domain, &active,
		&c.EdgeAccountID, &c.EdgeKVNamespaceID, &c.EdgeZoneID,
		&c.EdgeAPIToken, &c.LLMAPIKey,
		&c.WorkerScriptName, &c.WorkerDeployedAt, &c.WorkerRouteID,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Active = active != 0
	return &c, nil
}

func scanClient(row *sql.Row) (*Client, error) {
	c, err := scanInto(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: scan client: %w", err)
	}
	return c, nil
}

func scanClientRows(rows *sql.Rows) (*Client, error) {
	c, err := scanInto(rows)
	if err != nil {
		return nil, fmt.Errorf("registry: scan client: %w", err)
	}
	return c, nil
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
