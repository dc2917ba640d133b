package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return NewPGStore(db), mock, func() { _ = db.Close() }
}

func TestPGRecordLoginFailureArmsLock(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lockedUntil := now.Add(15 * time.Minute)
	policy := LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}

	mock.ExpectQuery("update users").
		WithArgs("user-1", 5, now, policy.Duration.Seconds()).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "locked_until"}).
			AddRow(5, lockedUntil))

	state, err := store.Users(context.Background()).RecordLoginFailure(context.Background(), "user-1", policy, now)
	if err != nil {
		t.Fatalf("RecordLoginFailure: %v", err)
	}
	if state.FailedAttempts != 5 {
		t.Fatalf("counter = %d, want 5", state.FailedAttempts)
	}
	if state.LockedUntil == nil || !state.LockedUntil.Equal(lockedUntil) {
		t.Fatalf("locked until = %v, want %v", state.LockedUntil, lockedUntil)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRecordLoginFailureBelowThreshold(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	now := time.Now().UTC()
	policy := DefaultLockoutPolicy()

	mock.ExpectQuery("update users").
		WithArgs("user-1", policy.Threshold, now, policy.Duration.Seconds()).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "locked_until"}).
			AddRow(2, nil))

	state, err := store.Users(context.Background()).RecordLoginFailure(context.Background(), "user-1", policy, now)
	if err != nil {
		t.Fatalf("RecordLoginFailure: %v", err)
	}
	if state.FailedAttempts != 2 || state.LockedUntil != nil {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestPGRecordLoginFailureUnknownUser(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectQuery("update users").WillReturnError(sql.ErrNoRows)

	_, err := store.Users(context.Background()).RecordLoginFailure(
		context.Background(), "ghost", DefaultLockoutPolicy(), time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGFindByEmail(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	created := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "status",
		"two_factor_enabled", "two_factor_secret", "failed_login_attempts",
		"locked_until", "password_changed_at", "last_login", "last_login_ip",
		"created_at", "updated_at",
	}).AddRow("user-1", "alice", "alice@example.com", "$2a$hash", "active",
		false, "", 0, nil, nil, nil, "", created, created)

	mock.ExpectQuery("select (.+) from users where email").
		WithArgs("alice@example.com").
		WillReturnRows(rows)

	user, err := store.Users(context.Background()).FindByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if user.ID != "user-1" || user.Email != "alice@example.com" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.LockedUntil != nil || user.PasswordChangedAt != nil {
		t.Fatalf("nullable fields should be nil: %+v", user)
	}
}

func TestPGFindByEmailNotFound(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectQuery("select (.+) from users where email").
		WithArgs("nobody@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Users(context.Background()).FindByEmail(context.Background(), "nobody@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGCreateUserConflict(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := store.Users(context.Background()).Create(context.Background(), &User{
		ID:           "user-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "$2a$hash",
		Status:       StatusActive,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPGRecordLoginSuccessResets(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	at := time.Now().UTC()
	mock.ExpectExec("update users").
		WithArgs("user-1", at, "10.0.0.9").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Users(context.Background()).RecordLoginSuccess(context.Background(), "user-1", "10.0.0.9", at); err != nil {
		t.Fatalf("RecordLoginSuccess: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGUpdatePasswordUnknownUser(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectExec("update users").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Users(context.Background()).UpdatePassword(context.Background(), "ghost", "$2a$hash", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGAuditAppend(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	created := time.Now().UTC()
	mock.ExpectExec("insert into activity_logs").
		WithArgs("log-1", "user-1", "login", "", "", "user logged in",
			"10.0.0.9", "curl/8", []byte(`{"attempt":1}`), created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Audit(context.Background()).Append(context.Background(), &AuditRecord{
		ID:          "log-1",
		ActorID:     "user-1",
		Action:      "login",
		Description: "user logged in",
		IPAddress:   "10.0.0.9",
		UserAgent:   "curl/8",
		Changes:     map[string]any{"attempt": 1},
		CreatedAt:   created,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRolesForUser(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	created := time.Now().UTC()
	mock.ExpectQuery("select r.id, r.name").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "created_at", "updated_at"}).
			AddRow("role-1", "User", "Standard repository access", created, created))
	mock.ExpectQuery("select p.id, p.name").
		WithArgs("role-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "category", "created_at"}).
			AddRow("perm-1", PermReportView, "View reports", "Reports", created))

	roles, err := store.Roles(context.Background()).RolesForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("RolesForUser: %v", err)
	}
	if len(roles) != 1 || roles[0].Name != "User" {
		t.Fatalf("unexpected roles: %+v", roles)
	}
	if len(roles[0].Permissions) != 1 || roles[0].Permissions[0].Name != PermReportView {
		t.Fatalf("permissions not loaded: %+v", roles[0].Permissions)
	}
}
