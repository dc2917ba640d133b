package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"reportvault.org/internal/ids"
)

const pgErrUniqueViolation = "23505"

// PGStore implements Store using PostgreSQL through the pgx stdlib driver.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// NewPGStore wraps an open connection pool.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore             { return &pgUsers{db: s.db} }
func (s *PGStore) Roles(context.Context) RoleStore             { return &pgRoles{db: s.db} }
func (s *PGStore) Permissions(context.Context) PermissionStore { return &pgPerms{db: s.db} }
func (s *PGStore) Audit(context.Context) AuditStore            { return &pgAudit{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// User store ---------------------------------------------------------------

type pgUsers struct{ db *sql.DB }

const userColumns = `id, username, email, password_hash, status,
	two_factor_enabled, coalesce(two_factor_secret, ''),
	failed_login_attempts, locked_until, password_changed_at,
	last_login, coalesce(last_login_ip, ''), created_at, updated_at`

func scanUser(row *sql.Row) (*User, error) {
	var (
		u                 User
		lockedUntil       sql.NullTime
		passwordChangedAt sql.NullTime
		lastLogin         sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Status,
		&u.TwoFactorEnabled, &u.TwoFactorSecret,
		&u.FailedLoginAttempts, &lockedUntil, &passwordChangedAt,
		&lastLogin, &u.LastLoginIP, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lockedUntil.Valid {
		u.LockedUntil = &lockedUntil.Time
	}
	if passwordChangedAt.Valid {
		u.PasswordChangedAt = &passwordChangedAt.Time
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return &u, nil
}

func (s *pgUsers) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, username, email, password_hash, status)
		 values($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Status,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *pgUsers) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id))
}

// FindByEmail matches the stored address exactly; the column collation is
// case-sensitive on purpose.
func (s *pgUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email = $1`, email))
}

func (s *pgUsers) UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users
		    set password_hash = $2, password_changed_at = $3, updated_at = $3
		  where id = $1`,
		userID, passwordHash, changedAt,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// RecordLoginFailure is a single-statement compare-and-set: the counter
// increment and the conditional lock arming happen in one isolated row
// update, so two concurrent failures are both counted. An unexpired lock is
// left untouched.
func (s *pgUsers) RecordLoginFailure(ctx context.Context, userID string, policy LockoutPolicy, now time.Time) (LockState, error) {
	row := s.db.QueryRowContext(ctx,
		`update users
		    set failed_login_attempts = failed_login_attempts + 1,
		        locked_until = case
		            when failed_login_attempts + 1 >= $2
		                 and (locked_until is null or locked_until <= $3)
		                then $3 + make_interval(secs => $4)
		            else locked_until
		        end,
		        updated_at = $3
		  where id = $1
		  returning failed_login_attempts, locked_until`,
		userID, policy.Threshold, now, policy.Duration.Seconds(),
	)
	var (
		state       LockState
		lockedUntil sql.NullTime
	)
	if err := row.Scan(&state.FailedAttempts, &lockedUntil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LockState{}, ErrNotFound
		}
		return LockState{}, err
	}
	if lockedUntil.Valid {
		state.LockedUntil = &lockedUntil.Time
	}
	return state, nil
}

func (s *pgUsers) RecordLoginSuccess(ctx context.Context, userID, clientIP string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users
		    set failed_login_attempts = 0,
		        locked_until = null,
		        last_login = $2,
		        last_login_ip = $3,
		        updated_at = $2
		  where id = $1`,
		userID, at, clientIP,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *pgUsers) SetTwoFactor(ctx context.Context, userID string, enabled bool, secret string) error {
	res, err := s.db.ExecContext(ctx,
		`update users
		    set two_factor_enabled = $2, two_factor_secret = $3, updated_at = now()
		  where id = $1`,
		userID, enabled, secret,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return ErrNotFound
	}
	return nil
}

// Role store ---------------------------------------------------------------

type pgRoles struct{ db *sql.DB }

func (s *pgRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, coalesce(description, ''), created_at, updated_at
		   from roles where name = $1`, name)
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	perms, err := s.permissionsForRole(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

func (s *pgRoles) RolesForUser(ctx context.Context, userID string) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select r.id, r.name, coalesce(r.description, ''), r.created_at, r.updated_at
		   from roles r
		   join user_roles ur on ur.role_id = r.id
		  where ur.user_id = $1
		  order by r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := s.permissionsForRole(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

func (s *pgRoles) permissionsForRole(ctx context.Context, roleID string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select p.id, p.name, coalesce(p.description, ''), coalesce(p.category, ''), p.created_at
		   from permissions p
		   join role_permissions rp on rp.permission_id = p.id
		  where rp.role_id = $1
		  order by p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *pgRoles) Assign(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into user_roles(user_id, role_id) values($1, $2)
		 on conflict do nothing`,
		userID, roleID,
	)
	return err
}

func (s *pgRoles) Ensure(ctx context.Context, name, description string, permissionNames []string) (*Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`insert into roles(id, name, description) values($1, $2, $3)
		 on conflict (name) do nothing`,
		ids.New(), name, description,
	)
	if err != nil {
		return nil, err
	}
	created, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if created > 0 {
		for _, permName := range permissionNames {
			if _, err := tx.ExecContext(ctx,
				`insert into role_permissions(role_id, permission_id)
				 select r.id, p.id from roles r, permissions p
				  where r.name = $1 and p.name = $2
				 on conflict do nothing`,
				name, permName,
			); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.FindByName(ctx, name)
}

// Permission store ---------------------------------------------------------

type pgPerms struct{ db *sql.DB }

func (s *pgPerms) Ensure(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
		}
		_, err := s.db.ExecContext(ctx,
			`insert into permissions(id, name, description, category)
			 values($1, $2, $3, $4)
			 on conflict (name) do nothing`,
			p.ID, p.Name, p.Description, p.Category,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *pgPerms) List(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, coalesce(description, ''), coalesce(category, ''), created_at
		   from permissions order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Audit store --------------------------------------------------------------

type pgAudit struct{ db *sql.DB }

// Append only: no update or delete statement exists for activity_logs.
func (s *pgAudit) Append(ctx context.Context, record *AuditRecord) error {
	if record.ID == "" {
		record.ID = ids.New()
	}
	var changes []byte
	if len(record.Changes) > 0 {
		encoded, err := json.Marshal(record.Changes)
		if err != nil {
			return err
		}
		changes = encoded
	}
	_, err := s.db.ExecContext(ctx,
		`insert into activity_logs(id, user_id, action, entity_type, entity_id,
		                           description, ip_address, user_agent, changes, created_at)
		 values($1, nullif($2, ''), $3, nullif($4, ''), nullif($5, ''),
		        $6, nullif($7, ''), nullif($8, ''), $9, $10)`,
		record.ID, record.ActorID, record.Action, record.EntityType, record.EntityID,
		record.Description, record.IPAddress, record.UserAgent, changes, record.CreatedAt,
	)
	return err
}
