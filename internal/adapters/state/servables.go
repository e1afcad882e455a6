package state

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/haveloc/servehub/internal/core"
)

var _ core.ServableStore = (*SQLiteStore)(nil)

const servableColumns = "uuid, namespace, name, status, protected, site, owner_id, created_at"

// ResolveServable returns the newest row for namespace/name. Status is
// not filtered here; callers decide what a DELETED row means.
func (s *SQLiteStore) ResolveServable(ctx context.Context, ref core.ServableRef) (*core.Servable, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+servableColumns+` FROM servables
		WHERE namespace = ? AND name = ?
		ORDER BY id DESC LIMIT 1
	`, ref.Namespace, ref.Name)
	servable, err := scanServable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrServableNotFound(ref.String())
	}
	if err != nil {
		return nil, core.ErrPersistence("resolving servable", err)
	}
	return servable, nil
}

// GetServable returns the servable with the given uuid.
func (s *SQLiteStore) GetServable(ctx context.Context, uuid string) (*core.Servable, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+servableColumns+` FROM servables WHERE uuid = ?
	`, uuid)
	servable, err := scanServable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrServableNotFound(uuid)
	}
	if err != nil {
		return nil, core.ErrPersistence("loading servable", err)
	}
	return servable, nil
}

// ListServables returns the newest READY servable per namespace/name
// visible to the identity. Protected servables appear only with a
// matching grant.
func (s *SQLiteStore) ListServables(ctx context.Context, id core.Identity) ([]*core.Servable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+servableColumns+` FROM servables s
		WHERE s.status = 'READY'
		  AND s.id = (
			SELECT MAX(s2.id) FROM servables s2
			WHERE s2.namespace = s.namespace AND s2.name = s.name
		  )
		  AND (s.protected = 0 OR EXISTS (
			SELECT 1 FROM servable_whitelist w
			WHERE w.servable_uuid = s.uuid AND w.user_id = ?
		  ))
		ORDER BY s.namespace, s.name
	`, id.UserID)
	if err != nil {
		return nil, core.ErrPersistence("listing servables", err)
	}
	defer func() { _ = rows.Close() }()

	var servables []*core.Servable
	for rows.Next() {
		servable, err := scanServable(rows)
		if err != nil {
			return nil, core.ErrPersistence("scanning servable", err)
		}
		servables = append(servables, servable)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrPersistence("listing servables", err)
	}
	return servables, nil
}

// CreateServable registers a new servable row.
func (s *SQLiteStore) CreateServable(ctx context.Context, servable *core.Servable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := servable.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servables (uuid, namespace, name, status, protected, site, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		servable.UUID, servable.Namespace, servable.Name, string(servable.Status),
		servable.Protected, servable.Site, servable.OwnerID, createdAt,
	)
	if err != nil {
		return core.ErrPersistence("inserting servable", err)
	}
	return nil
}

// MarkServableDeleted flips the status to DELETED. The row stays.
func (s *SQLiteStore) MarkServableDeleted(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE servables SET status = 'DELETED' WHERE uuid = ?`, uuid)
	if err != nil {
		return core.ErrPersistence("deleting servable", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrServableNotFound(uuid)
	}
	return nil
}

// HasGrant reports whether a whitelist row exists.
func (s *SQLiteStore) HasGrant(ctx context.Context, userID int64, servableUUID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM servable_whitelist WHERE user_id = ? AND servable_uuid = ?
	`, userID, servableUUID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, core.ErrPersistence("checking grant", err)
	}
	return true, nil
}

// AddGrant inserts a whitelist row. Duplicate grants are a no-op.
func (s *SQLiteStore) AddGrant(ctx context.Context, userID int64, servableUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servable_whitelist (user_id, servable_uuid, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, servable_uuid) DO NOTHING
	`, userID, servableUUID, time.Now().UTC())
	if err != nil {
		return core.ErrPersistence("inserting grant", err)
	}
	return nil
}

var _ core.UserStore = (*SQLiteStore)(nil)

// UpsertUser returns the user row for username, creating it (and
// deriving the namespace handle) on first sight.
func (s *SQLiteStore) UpsertUser(ctx context.Context, username string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.ErrPersistence("beginning user transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	user := &core.User{Username: username}
	err = tx.QueryRowContext(ctx, `
		SELECT id, namespace, created_at FROM users WHERE username = ?
	`, username).Scan(&user.ID, &user.Namespace, &user.CreatedAt)
	if err == nil {
		return user, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrPersistence("loading user", err)
	}

	user.Namespace = core.NamespaceFor(username)
	user.CreatedAt = time.Now().UTC()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (username, namespace, created_at) VALUES (?, ?, ?)
		RETURNING id
	`, username, user.Namespace, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		return nil, core.ErrPersistence("inserting user", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, core.ErrPersistence("committing user", err)
	}
	return user, nil
}

func scanServable(row rowScanner) (*core.Servable, error) {
	var (
		servable core.Servable
		status   string
	)
	if err := row.Scan(
		&servable.UUID, &servable.Namespace, &servable.Name, &status,
		&servable.Protected, &servable.Site, &servable.OwnerID, &servable.CreatedAt,
	); err != nil {
		return nil, err
	}
	servable.Status = core.ServableStatus(status)
	return &servable, nil
}
