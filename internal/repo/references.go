package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"maintline/internal/domain"
)

// CompanyOf returns the company owning a row of a reference table.
// table must be one of the reference tables below; it is never user input.
func (r Repo) CompanyOf(ctx context.Context, tx *sql.Tx, table string, id int64) (int64, error) {
	switch table {
	case "locations", "teams", "categories", "files", "assets", "users":
	default:
		return 0, ErrNotFound
	}
	var companyID sql.NullInt64
	err := r.q(tx).QueryRowContext(ctx, `SELECT company_id FROM `+table+` WHERE id=?`, id).Scan(&companyID)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return companyID.Int64, nil
}

func (r Repo) insertNamed(ctx context.Context, tx *sql.Tx, table string, companyID int64, name string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO `+table+`(company_id, name) VALUES (?,?)`, companyID, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) InsertLocation(ctx context.Context, tx *sql.Tx, companyID int64, name string) (int64, error) {
	return r.insertNamed(ctx, tx, "locations", companyID, name)
}

func (r Repo) InsertTeam(ctx context.Context, tx *sql.Tx, companyID int64, name string) (int64, error) {
	return r.insertNamed(ctx, tx, "teams", companyID, name)
}

func (r Repo) InsertCategory(ctx context.Context, tx *sql.Tx, companyID int64, name string) (int64, error) {
	return r.insertNamed(ctx, tx, "categories", companyID, name)
}

func (r Repo) InsertFile(ctx context.Context, tx *sql.Tx, f domain.File) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO files(company_id, name, url) VALUES (?,?,?)`, f.CompanyID, f.Name, f.URL)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) AttachFile(ctx context.Context, tx *sql.Tx, workOrderID, fileID int64) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO work_order_files(work_order_id, file_id) VALUES (?,?)`, workOrderID, fileID)
	return err
}

func (r Repo) GetLocation(ctx context.Context, tx *sql.Tx, id int64) (domain.Location, error) {
	var l domain.Location
	err := r.q(tx).QueryRowContext(ctx, `SELECT id, company_id, name FROM locations WHERE id=?`, id).Scan(&l.ID, &l.CompanyID, &l.Name)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) GetCategory(ctx context.Context, tx *sql.Tx, id int64) (domain.Category, error) {
	var c domain.Category
	err := r.q(tx).QueryRowContext(ctx, `SELECT id, company_id, name FROM categories WHERE id=?`, id).Scan(&c.ID, &c.CompanyID, &c.Name)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) GetTeam(ctx context.Context, tx *sql.Tx, id int64) (domain.Team, error) {
	q := r.q(tx)
	var t domain.Team
	err := q.QueryRowContext(ctx, `SELECT id, company_id, name FROM teams WHERE id=?`, id).Scan(&t.ID, &t.CompanyID, &t.Name)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM team_members WHERE team_id=? ORDER BY user_id`, id)
	if err != nil {
		return t, err
	}
	defer rows.Close()
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return t, err
		}
		t.MemberIDs = append(t.MemberIDs, uid)
	}
	return t, rows.Err()
}

func (r Repo) ListWorkOrderFiles(ctx context.Context, tx *sql.Tx, workOrderID int64) ([]domain.File, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT f.id, f.company_id, f.name, f.url FROM files f
JOIN work_order_files wf ON wf.file_id = f.id WHERE wf.work_order_id=? ORDER BY f.id`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var files []domain.File
	for rows.Next() {
		var f domain.File
		if err := rows.Scan(&f.ID, &f.CompanyID, &f.Name, &f.URL); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

const assetColumns = `id, company_id, name, custom_id, status, location_id, category, archived, updated_at`

func scanAsset(row scanner) (domain.Asset, error) {
	var (
		a                  domain.Asset
		customID, category sql.NullString
		location           sql.NullInt64
		archived           int
		updated            string
	)
	err := row.Scan(&a.ID, &a.CompanyID, &a.Name, &customID, &a.Status, &location, &category, &archived, &updated)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.CustomID = stringPtr(customID)
	a.Category = stringPtr(category)
	a.LocationID = int64Ptr(location)
	a.Archived = archived != 0
	a.UpdatedAt, err = parseTime(updated)
	return a, err
}

func (r Repo) InsertAsset(ctx context.Context, tx *sql.Tx, a domain.Asset) (int64, error) {
	if a.Status == "" {
		a.Status = "OPERATIONAL"
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now()
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO assets(company_id, name, custom_id, status, location_id, category, archived, updated_at)
VALUES (?,?,?,?,?,?,?,?)`, a.CompanyID, a.Name, nullableStringPtr(a.CustomID), a.Status, nullableInt64Ptr(a.LocationID),
		nullableStringPtr(a.Category), boolInt(a.Archived), formatTime(a.UpdatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetAsset(ctx context.Context, tx *sql.Tx, id int64) (domain.Asset, error) {
	return scanAsset(r.q(tx).QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id=?`, id))
}

// AssetFilters drive SearchAssets.
type AssetFilters struct {
	CompanyID int64
	Statuses  []string
	Search    string
	Limit     int
}

// SearchAssets returns non-archived assets, most recently updated first.
func (r Repo) SearchAssets(ctx context.Context, f AssetFilters) ([]domain.Asset, error) {
	clauses := []string{"company_id=?", "archived=0"}
	args := []any{f.CompanyID}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		clauses = append(clauses, "(LOWER(name) LIKE ? OR LOWER(COALESCE(custom_id,'')) LIKE ?)")
		args = append(args, like, like)
	}
	query := `SELECT ` + assetColumns + ` FROM assets WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY updated_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assets []domain.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}
