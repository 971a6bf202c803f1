package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"maintline/internal/domain"
)

func (r Repo) InsertCompany(ctx context.Context, tx *sql.Tx, name string, now time.Time) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO companies(name, created_at) VALUES (?,?)`, name, formatTime(now))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetCompany(ctx context.Context, tx *sql.Tx, id int64) (domain.Company, error) {
	var c domain.Company
	var created string
	err := r.q(tx).QueryRowContext(ctx, `SELECT id, name, created_at FROM companies WHERE id=?`, id).Scan(&c.ID, &c.Name, &created)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.CreatedAt, err = parseTime(created)
	return c, err
}

// EnsureRole returns the company's role with code, creating it when missing.
func (r Repo) EnsureRole(ctx context.Context, tx *sql.Tx, companyID int64, code domain.RoleCode, name string) (domain.Role, error) {
	q := r.q(tx)
	role := domain.Role{CompanyID: companyID, Code: code, Name: name}
	err := q.QueryRowContext(ctx, `SELECT id, name FROM roles WHERE company_id=? AND code=?`, companyID, string(code)).Scan(&role.ID, &role.Name)
	if err == nil {
		return role, nil
	}
	if err != sql.ErrNoRows {
		return role, err
	}
	if name == "" {
		role.Name = string(code)
	}
	res, err := q.ExecContext(ctx, `INSERT INTO roles(company_id, code, name) VALUES (?,?,?)`, companyID, string(code), role.Name)
	if err != nil {
		return role, fmt.Errorf("insert role %s: %w", code, err)
	}
	role.ID, err = res.LastInsertId()
	return role, err
}

// InsertUser stores u; RoleID is taken from u.Role when set.
func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User, now time.Time) (int64, error) {
	var roleID any
	if u.Role != nil {
		roleID = u.Role.ID
	}
	var companyID any
	if u.CompanyID != 0 {
		companyID = u.CompanyID
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(company_id, role_id, email, full_name, enabled, created_at) VALUES (?,?,?,?,?,?)`,
		companyID, roleID, u.Email, u.FullName, boolInt(u.Enabled), formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("insert user %s: %w", u.Email, err)
	}
	return res.LastInsertId()
}

const userSelect = `SELECT u.id, COALESCE(u.company_id,0), u.email, u.full_name, u.enabled,
r.id, r.company_id, r.code, r.name
FROM users u LEFT JOIN roles r ON r.id = u.role_id`

func scanUser(row scanner) (domain.User, error) {
	var (
		u        domain.User
		enabled  int
		roleID   sql.NullInt64
		roleComp sql.NullInt64
		roleCode sql.NullString
		roleName sql.NullString
	)
	err := row.Scan(&u.ID, &u.CompanyID, &u.Email, &u.FullName, &enabled, &roleID, &roleComp, &roleCode, &roleName)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.Enabled = enabled != 0
	if roleID.Valid {
		u.Role = &domain.Role{ID: roleID.Int64, CompanyID: roleComp.Int64, Code: domain.RoleCode(roleCode.String), Name: roleName.String}
	}
	return u, nil
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id int64) (domain.User, error) {
	return scanUser(r.q(tx).QueryRowContext(ctx, userSelect+` WHERE u.id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, tx *sql.Tx, email string) (domain.User, error) {
	return scanUser(r.q(tx).QueryRowContext(ctx, userSelect+` WHERE u.email=? COLLATE NOCASE`, email))
}

// UsersByID loads the given users keyed by id; unknown ids are skipped.
func (r Repo) UsersByID(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]domain.User, error) {
	out := make(map[int64]domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.q(tx).QueryContext(ctx, userSelect+` WHERE u.id IN (`+placeholders(len(ids))+`)`, int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

func (r Repo) AddTeamMember(ctx context.Context, tx *sql.Tx, teamID, userID int64) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO team_members(team_id, user_id) VALUES (?,?)`, teamID, userID)
	return err
}

func (r Repo) IsTeamMember(ctx context.Context, tx *sql.Tx, teamID, userID int64) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM team_members WHERE team_id=? AND user_id=?`, teamID, userID).Scan(&n)
	return n > 0, err
}
