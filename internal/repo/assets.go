package repo

import (
	"context"
	"database/sql"

	"opsdesk/internal/domain"
)

func (r Repo) InsertAsset(ctx context.Context, a domain.Asset) (domain.Asset, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO assets(client_id,name,serial_number,asset_type,status,location,created_at) VALUES (?,?,?,?,?,?,?)`,
		a.ClientID, a.Name, nullable(a.SerialNumber), nullable(a.AssetType), a.Status, nullable(a.Location), fmtTime(a.CreatedAt))
	if err != nil {
		return domain.Asset{}, err
	}
	a.ID, err = res.LastInsertId()
	return a, err
}

const assetCols = `id,client_id,name,COALESCE(serial_number,''),COALESCE(asset_type,''),status,COALESCE(location,''),created_at`

func scanAssetRow(scan func(dest ...any) error) (domain.Asset, error) {
	var a domain.Asset
	var createdAt string
	if err := scan(&a.ID, &a.ClientID, &a.Name, &a.SerialNumber, &a.AssetType, &a.Status, &a.Location, &createdAt); err != nil {
		return a, err
	}
	a.CreatedAt = parseTS(createdAt)
	return a, nil
}

func (r Repo) GetAsset(ctx context.Context, id int64) (domain.Asset, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+assetCols+` FROM assets WHERE id=?`, id)
	a, err := scanAssetRow(row.Scan)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListAssets(ctx context.Context, clientID int64) ([]domain.Asset, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+assetCols+` FROM assets WHERE client_id=? ORDER BY created_at DESC, id DESC`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Asset
	for rows.Next() {
		a, err := scanAssetRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAsset(ctx context.Context, a domain.Asset) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE assets SET name=?,serial_number=?,asset_type=?,status=?,location=? WHERE id=?`,
		a.Name, nullable(a.SerialNumber), nullable(a.AssetType), a.Status, nullable(a.Location), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAsset(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM assets WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertContract(ctx context.Context, c domain.ServiceContract) (domain.ServiceContract, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO service_contracts(client_id,title,description,start_date,end_date,support_level,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ClientID, c.Title, nullable(c.Description), fmtTime(c.StartDate), fmtTime(c.EndDate), nullable(c.SupportLevel), fmtTime(c.CreatedAt))
	if err != nil {
		return domain.ServiceContract{}, err
	}
	c.ID, err = res.LastInsertId()
	return c, err
}

const contractCols = `id,client_id,title,COALESCE(description,''),start_date,end_date,COALESCE(support_level,''),created_at`

func scanContractRow(scan func(dest ...any) error) (domain.ServiceContract, error) {
	var c domain.ServiceContract
	var startDate, endDate, createdAt string
	if err := scan(&c.ID, &c.ClientID, &c.Title, &c.Description, &startDate, &endDate, &c.SupportLevel, &createdAt); err != nil {
		return c, err
	}
	c.StartDate = parseTS(startDate)
	c.EndDate = parseTS(endDate)
	c.CreatedAt = parseTS(createdAt)
	return c, nil
}

func (r Repo) GetContract(ctx context.Context, id int64) (domain.ServiceContract, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+contractCols+` FROM service_contracts WHERE id=?`, id)
	c, err := scanContractRow(row.Scan)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListContracts(ctx context.Context, clientID int64) ([]domain.ServiceContract, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+contractCols+` FROM service_contracts WHERE client_id=? ORDER BY start_date DESC, id DESC`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ServiceContract
	for rows.Next() {
		c, err := scanContractRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) DeleteContract(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM service_contracts WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
