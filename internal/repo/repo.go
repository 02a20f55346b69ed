package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// parseTS reads a timestamp column written by fmtTime. Columns are
// always written in RFC3339 so a corrupt value scans as zero time.
func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func timePtr(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := parseTS(v.String)
	return &t
}

func (r Repo) InsertCompany(ctx context.Context, c domain.Company) (domain.Company, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO companies(name,industry,headquarters,created_at,updated_at) VALUES (?,?,?,?,?)`,
		c.Name, nullable(c.Industry), nullable(c.Headquarters), fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt))
	if err != nil {
		return domain.Company{}, err
	}
	c.ID, err = res.LastInsertId()
	return c, err
}

const companyCols = `id,name,COALESCE(industry,''),COALESCE(headquarters,''),created_at,updated_at`

func scanCompany(row *sql.Row) (domain.Company, error) {
	var c domain.Company
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.Name, &c.Industry, &c.Headquarters, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.CreatedAt = parseTS(createdAt)
	c.UpdatedAt = parseTS(updatedAt)
	return c, nil
}

func (r Repo) GetCompany(ctx context.Context, id int64) (domain.Company, error) {
	return scanCompany(r.DB.QueryRowContext(ctx, `SELECT `+companyCols+` FROM companies WHERE id=?`, id))
}

func (r Repo) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+companyCols+` FROM companies ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Company
	for rows.Next() {
		var c domain.Company
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.Industry, &c.Headquarters, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTS(createdAt)
		c.UpdatedAt = parseTS(updatedAt)
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateCompany(ctx context.Context, c domain.Company) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE companies SET name=?,industry=?,headquarters=?,updated_at=? WHERE id=?`,
		c.Name, nullable(c.Industry), nullable(c.Headquarters), fmtTime(c.UpdatedAt), c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteCompany(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM companies WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertClient(ctx context.Context, c domain.Client) (domain.Client, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO clients(company_id,name,email,phone,address,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		c.CompanyID, c.Name, c.Email, nullable(c.Phone), nullable(c.Address), fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt))
	if err != nil {
		return domain.Client{}, err
	}
	c.ID, err = res.LastInsertId()
	return c, err
}

const clientCols = `id,company_id,name,email,COALESCE(phone,''),COALESCE(address,''),created_at,updated_at`

func scanClientRow(scan func(dest ...any) error) (domain.Client, error) {
	var c domain.Client
	var companyID sql.NullInt64
	var createdAt, updatedAt string
	if err := scan(&c.ID, &companyID, &c.Name, &c.Email, &c.Phone, &c.Address, &createdAt, &updatedAt); err != nil {
		return c, err
	}
	if companyID.Valid {
		c.CompanyID = &companyID.Int64
	}
	c.CreatedAt = parseTS(createdAt)
	c.UpdatedAt = parseTS(updatedAt)
	return c, nil
}

func (r Repo) GetClient(ctx context.Context, id int64) (domain.Client, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+clientCols+` FROM clients WHERE id=?`, id)
	c, err := scanClientRow(row.Scan)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

type ClientFilters struct {
	CompanyID int64
	Search    string
	Limit     int
}

func (r Repo) ListClients(ctx context.Context, f ClientFilters) ([]domain.Client, error) {
	var clauses []string
	var args []any
	if f.CompanyID != 0 {
		clauses = append(clauses, "company_id=?")
		args = append(args, f.CompanyID)
	}
	if f.Search != "" {
		clauses = append(clauses, "(name LIKE ? OR email LIKE ?)")
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + clientCols + ` FROM clients ` + where + ` ORDER BY name`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		c, err := scanClientRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateClient(ctx context.Context, c domain.Client) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE clients SET company_id=?,name=?,email=?,phone=?,address=?,updated_at=? WHERE id=?`,
		c.CompanyID, c.Name, c.Email, nullable(c.Phone), nullable(c.Address), fmtTime(c.UpdatedAt), c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteClient(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM clients WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchClient bumps updated_at, which feeds the staleness term of the
// churn score.
func (r Repo) TouchClient(ctx context.Context, tx *sql.Tx, id int64, at time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE clients SET updated_at=? WHERE id=?`, fmtTime(at), id)
	return err
}

func (r Repo) InsertClientNoteTx(ctx context.Context, tx *sql.Tx, n domain.ClientNote) (domain.ClientNote, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO client_notes(client_id,author,body,created_at) VALUES (?,?,?,?)`,
		n.ClientID, n.Author, n.Body, fmtTime(n.CreatedAt))
	if err != nil {
		return domain.ClientNote{}, err
	}
	n.ID, err = res.LastInsertId()
	return n, err
}

func (r Repo) ListClientNotes(ctx context.Context, clientID int64) ([]domain.ClientNote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,client_id,author,body,created_at FROM client_notes WHERE client_id=? ORDER BY created_at DESC, id DESC`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ClientNote
	for rows.Next() {
		var n domain.ClientNote
		var createdAt string
		if err := rows.Scan(&n.ID, &n.ClientID, &n.Author, &n.Body, &createdAt); err != nil {
			return nil, err
		}
		n.CreatedAt = parseTS(createdAt)
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) clientExists(ctx context.Context, id int64) error {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM clients WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("client %d: %w", id, ErrNotFound)
	}
	return err
}

// EnsureClient verifies the referenced client row exists.
func (r Repo) EnsureClient(ctx context.Context, id int64) error {
	return r.clientExists(ctx, id)
}
