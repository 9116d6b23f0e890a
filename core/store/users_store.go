package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

const (
	RoleSuperadmin = "superadmin"
	RoleAdmin      = "admin"
	RoleDepartment = "department"
	RoleDriver     = "driver"
	RoleHospital   = "hospital"
	RoleCitizen    = "citizen"
)

var validRoles = map[string]struct{}{
	RoleSuperadmin: {},
	RoleAdmin:      {},
	RoleDepartment: {},
	RoleDriver:     {},
	RoleHospital:   {},
	RoleCitizen:    {},
}

func ValidRole(role string) bool {
	_, ok := validRoles[role]
	return ok
}

type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone,omitempty"`
	PasswordHash   string    `json:"-"`
	Salt           string    `json:"-"`
	Role           string    `json:"role"`
	Department     string    `json:"department,omitempty"`
	Hospital       string    `json:"hospital,omitempty"`
	DrivingLicense string    `json:"driving_license,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type UsersStore interface {
	Create(ctx context.Context, u *User) (string, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context, role string) ([]User, error)
	ListActiveByRoleAndDepartment(ctx context.Context, role, department string) ([]User, error)
	ListActiveByRoleAndHospital(ctx context.Context, role, hospital string) ([]User, error)
	ListActiveByRoles(ctx context.Context, roles ...string) ([]User, error)
	SetActive(ctx context.Context, id string, active bool) error
	Count(ctx context.Context) (int, error)
}

type usersStore struct {
	db *DB
}

func NewUsersStore(db *DB) UsersStore {
	return &usersStore{db: db}
}

const userColumns = `id, username, name, email, phone, password_hash, salt, role, department, hospital, driving_license, active, created_at, updated_at`

func (s *usersStore) Create(ctx context.Context, u *User) (string, error) {
	if !ValidRole(u.Role) {
		return "", errors.New("invalid role")
	}
	if strings.TrimSpace(u.ID) == "" {
		u.ID = uuid.Must(uuid.NewV4()).String()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users(`+userColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		u.ID, strings.TrimSpace(u.Username), u.Name, strings.ToLower(strings.TrimSpace(u.Email)), u.Phone,
		u.PasswordHash, u.Salt, u.Role, strings.TrimSpace(u.Department), strings.TrimSpace(u.Hospital),
		u.DrivingLicense, boolToInt(u.Active), now, now)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func (s *usersStore) GetByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id=?`), id)
	return scanUser(row)
}

func (s *usersStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE username=?`), strings.TrimSpace(username))
	return scanUser(row)
}

func (s *usersStore) List(ctx context.Context, role string) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if strings.TrimSpace(role) != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY username ASC`
	return s.queryUsers(ctx, query, args...)
}

func (s *usersStore) ListActiveByRoleAndDepartment(ctx context.Context, role, department string) ([]User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE role=? AND department=? AND active=1 ORDER BY username ASC`, role, department)
}

func (s *usersStore) ListActiveByRoleAndHospital(ctx context.Context, role, hospital string) ([]User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE role=? AND hospital=? AND active=1 ORDER BY username ASC`, role, hospital)
}

func (s *usersStore) ListActiveByRoles(ctx context.Context, roles ...string) ([]User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(roles)), ",")
	args := make([]any, 0, len(roles))
	for _, r := range roles {
		args = append(args, r)
	}
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE role IN (`+placeholders+`) AND active=1 ORDER BY username ASC`, args...)
}

func (s *usersStore) SetActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET active=?, updated_at=? WHERE id=?`),
		boolToInt(active), time.Now().UTC(), id)
	return err
}

func (s *usersStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *usersStore) queryUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []User
	for rows.Next() {
		var u User
		var active int
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Salt,
			&u.Role, &u.Department, &u.Hospital, &u.DrivingLicense, &active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Active = active == 1
		res = append(res, u)
	}
	return res, rows.Err()
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var active int
	if err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Salt,
		&u.Role, &u.Department, &u.Hospital, &u.DrivingLicense, &active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Active = active == 1
	return &u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
