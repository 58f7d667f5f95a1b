package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapError(err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &pgTx{tx: sqlTx, types: pgtype.NewMap()}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapError(err))
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
	// types scans array columns; a Map is not safe for concurrent use so
	// each transaction gets its own.
	types *pgtype.Map
}

type rowScanner interface {
	Scan(dest ...any) error
}

const communityColumns = `id, name, flags, behaviors::text, bridge_a_id, bridge_b_id, created_at`

func (t *pgTx) scanCommunity(row rowScanner) (Community, error) {
	var (
		item             Community
		behaviorsRaw     string
		bridgeA, bridgeB sql.NullInt64
	)
	if err := row.Scan(
		&item.ID,
		&item.Name,
		t.types.SQLScanner(&item.Flags),
		&behaviorsRaw,
		&bridgeA,
		&bridgeB,
		&item.CreatedAt,
	); err != nil {
		return Community{}, err
	}
	if err := json.Unmarshal([]byte(behaviorsRaw), &item.Behaviors); err != nil {
		return Community{}, fmt.Errorf("decode behaviors: %w", err)
	}
	if bridgeA.Valid && bridgeB.Valid {
		item.BridgeIDs = []int64{bridgeA.Int64, bridgeB.Int64}
	}
	if item.Flags == nil {
		item.Flags = []string{}
	}
	return item, nil
}

func (t *pgTx) GetCommunity(ctx context.Context, id int64) (Community, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+communityColumns+` FROM communities WHERE id=$1`, id)
	item, err := t.scanCommunity(row)
	if err != nil {
		return Community{}, fmt.Errorf("get community %d: %w", id, mapError(err))
	}
	return item, nil
}

func (t *pgTx) LockCommunity(ctx context.Context, id int64) (Community, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+communityColumns+` FROM communities WHERE id=$1 FOR UPDATE`, id)
	item, err := t.scanCommunity(row)
	if err != nil {
		return Community{}, fmt.Errorf("lock community %d: %w", id, mapError(err))
	}
	return item, nil
}

func (t *pgTx) ListCommunities(ctx context.Context) ([]Community, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+communityColumns+` FROM communities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list communities: %w", err)
	}
	defer rows.Close()

	items := make([]Community, 0)
	for rows.Next() {
		item, err := t.scanCommunity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan community: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate communities: %w", err)
	}
	return items, nil
}

func (t *pgTx) InsertCommunity(ctx context.Context, c Community) (Community, error) {
	if c.Flags == nil {
		c.Flags = []string{}
	}
	behaviors, err := json.Marshal(c.Behaviors)
	if err != nil {
		return Community{}, fmt.Errorf("encode behaviors: %w", err)
	}
	var bridgeA, bridgeB sql.NullInt64
	if len(c.BridgeIDs) == 2 {
		bridgeA = sql.NullInt64{Int64: c.BridgeIDs[0], Valid: true}
		bridgeB = sql.NullInt64{Int64: c.BridgeIDs[1], Valid: true}
	}
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO communities (name, flags, behaviors, bridge_a_id, bridge_b_id)
		VALUES ($1, $2, $3::jsonb, $4, $5)
		RETURNING `+communityColumns,
		c.Name, c.Flags, string(behaviors), bridgeA, bridgeB,
	)
	item, err := t.scanCommunity(row)
	if err != nil {
		return Community{}, fmt.Errorf("insert community: %w", mapError(err))
	}
	return item, nil
}

func (t *pgTx) UpdateCommunityFlags(ctx context.Context, id int64, flags []string) error {
	if flags == nil {
		flags = []string{}
	}
	result, err := t.tx.ExecContext(ctx, `UPDATE communities SET flags=$2 WHERE id=$1`, id, flags)
	if err != nil {
		return fmt.Errorf("update community flags: %w", mapError(err))
	}
	return requireRow(result, "update community flags")
}

func (t *pgTx) UpdateCommunityBehaviors(ctx context.Context, id int64, behaviors Behaviors) error {
	payload, err := json.Marshal(behaviors)
	if err != nil {
		return fmt.Errorf("encode behaviors: %w", err)
	}
	result, err := t.tx.ExecContext(ctx, `UPDATE communities SET behaviors=$2::jsonb WHERE id=$1`, id, string(payload))
	if err != nil {
		return fmt.Errorf("update community behaviors: %w", mapError(err))
	}
	return requireRow(result, "update community behaviors")
}

func (t *pgTx) GetMembership(ctx context.Context, personaID, communityID int64) (Membership, error) {
	var item Membership
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, persona_id, community_id, created_at
		FROM memberships
		WHERE persona_id=$1 AND community_id=$2
	`, personaID, communityID).Scan(&item.ID, &item.PersonaID, &item.CommunityID, &item.CreatedAt)
	if err != nil {
		return Membership{}, fmt.Errorf("get membership: %w", mapError(err))
	}
	return item, nil
}

func (t *pgTx) InsertMembership(ctx context.Context, personaID, communityID int64) (Membership, error) {
	var item Membership
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO memberships (persona_id, community_id)
		VALUES ($1, $2)
		RETURNING id, persona_id, community_id, created_at
	`, personaID, communityID).Scan(&item.ID, &item.PersonaID, &item.CommunityID, &item.CreatedAt)
	if err != nil {
		return Membership{}, fmt.Errorf("insert membership: %w", mapError(err))
	}
	return item, nil
}

func (t *pgTx) DeleteMembership(ctx context.Context, id int64) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM memberships WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete membership: %w", mapError(err))
	}
	return requireRow(result, "delete membership")
}

func (t *pgTx) ListMemberIDs(ctx context.Context, communityIDs []int64) ([]int64, error) {
	return t.queryIDs(ctx, "list member ids", `
		SELECT DISTINCT persona_id
		FROM memberships
		WHERE community_id = ANY($1)
		ORDER BY persona_id
	`, communityIDs)
}

func (t *pgTx) SharesCommunity(ctx context.Context, a, b int64, communityIDs []int64) (bool, error) {
	var shared bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT m.community_id
			FROM memberships m
			JOIN communities c ON c.id = m.community_id
			WHERE m.persona_id=$1 AND m.community_id = ANY($3) AND c.bridge_a_id IS NULL
			INTERSECT
			SELECT community_id FROM memberships WHERE persona_id=$2 AND community_id = ANY($3)
		)
	`, a, b, communityIDs).Scan(&shared)
	if err != nil {
		return false, fmt.Errorf("shares community: %w", mapError(err))
	}
	return shared, nil
}

func (t *pgTx) ListRoles(ctx context.Context, membershipID int64) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT role FROM membership_roles WHERE membership_id=$1 ORDER BY created_at, role
	`, membershipID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		items = append(items, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return items, nil
}

func (t *pgTx) InsertRole(ctx context.Context, membershipID int64, role string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO membership_roles (membership_id, role)
		VALUES ($1, $2)
		ON CONFLICT (membership_id, role) DO NOTHING
	`, membershipID, role)
	if err != nil {
		return fmt.Errorf("insert role: %w", mapError(err))
	}
	return nil
}

func (t *pgTx) DeleteRole(ctx context.Context, membershipID int64, role string) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM membership_roles WHERE membership_id=$1 AND role=$2`, membershipID, role)
	if err != nil {
		return false, fmt.Errorf("delete role: %w", mapError(err))
	}
	return affected(result, "delete role")
}

func (t *pgTx) ListPersonaIDsWithRole(ctx context.Context, communityIDs []int64, role string) ([]int64, error) {
	return t.queryIDs(ctx, "list personas with role", `
		SELECT DISTINCT m.persona_id
		FROM memberships m
		JOIN membership_roles r ON r.membership_id = m.id
		WHERE m.community_id = ANY($1) AND r.role = $2
		ORDER BY m.persona_id
	`, communityIDs, role)
}

func (t *pgTx) ListPatches(ctx context.Context, membershipID int64) ([]Patch, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT membership_id, permission, mode
		FROM permission_patches
		WHERE membership_id=$1
		ORDER BY permission
	`, membershipID)
	if err != nil {
		return nil, fmt.Errorf("list patches: %w", err)
	}
	defer rows.Close()

	items := make([]Patch, 0)
	for rows.Next() {
		var item Patch
		if err := rows.Scan(&item.MembershipID, &item.Permission, &item.Mode); err != nil {
			return nil, fmt.Errorf("scan patch: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patches: %w", err)
	}
	return items, nil
}

func (t *pgTx) InsertPatch(ctx context.Context, p Patch) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO permission_patches (membership_id, permission, mode)
		VALUES ($1, $2, $3)
	`, p.MembershipID, p.Permission, string(p.Mode))
	if err != nil {
		return fmt.Errorf("insert patch: %w", mapError(err))
	}
	return nil
}

func (t *pgTx) DeletePatch(ctx context.Context, membershipID int64, permission string) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		DELETE FROM permission_patches WHERE membership_id=$1 AND permission=$2
	`, membershipID, permission)
	if err != nil {
		return false, fmt.Errorf("delete patch: %w", mapError(err))
	}
	return affected(result, "delete patch")
}

func (t *pgTx) queryIDs(ctx context.Context, op, query string, args ...any) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s iterate: %w", op, err)
	}
	return items, nil
}

func affected(result sql.Result, op string) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows: %w", op, err)
	}
	return n > 0, nil
}

func requireRow(result sql.Result, op string) error {
	ok, err := affected(result, op)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
