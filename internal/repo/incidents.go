package repo

import (
	"context"
	"database/sql"
	"strings"

	"opsdesk/internal/domain"
)

const incidentCols = `id,client_id,source,external_id,severity,message,status,occurred_at,ticket_id,created_at,updated_at`

func scanIncidentRow(scan func(dest ...any) error) (domain.MonitoringIncident, error) {
	var inc domain.MonitoringIncident
	var ticketID sql.NullInt64
	var occurredAt, createdAt, updatedAt string
	if err := scan(&inc.ID, &inc.ClientID, &inc.Source, &inc.ExternalID, &inc.Severity, &inc.Message, &inc.Status, &occurredAt, &ticketID, &createdAt, &updatedAt); err != nil {
		return inc, err
	}
	if ticketID.Valid {
		inc.TicketID = &ticketID.Int64
	}
	inc.OccurredAt = parseTS(occurredAt)
	inc.CreatedAt = parseTS(createdAt)
	inc.UpdatedAt = parseTS(updatedAt)
	return inc, nil
}

func (r Repo) InsertIncidentTx(ctx context.Context, tx *sql.Tx, inc domain.MonitoringIncident) (domain.MonitoringIncident, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO monitoring_incidents(client_id,source,external_id,severity,message,status,occurred_at,ticket_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		inc.ClientID, inc.Source, inc.ExternalID, inc.Severity, inc.Message, inc.Status, fmtTime(inc.OccurredAt), inc.TicketID, fmtTime(inc.CreatedAt), fmtTime(inc.UpdatedAt))
	if err != nil {
		return domain.MonitoringIncident{}, err
	}
	inc.ID, err = res.LastInsertId()
	return inc, err
}

func (r Repo) GetIncident(ctx context.Context, id int64) (domain.MonitoringIncident, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+incidentCols+` FROM monitoring_incidents WHERE id=?`, id)
	inc, err := scanIncidentRow(row.Scan)
	if err == sql.ErrNoRows {
		return inc, ErrNotFound
	}
	return inc, err
}

// FindIncidentByKey looks up an incident by its dedup key inside the
// caller's transaction.
func (r Repo) FindIncidentByKey(ctx context.Context, tx *sql.Tx, source, externalID string) (domain.MonitoringIncident, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+incidentCols+` FROM monitoring_incidents WHERE source=? AND external_id=?`, source, externalID)
	inc, err := scanIncidentRow(row.Scan)
	if err == sql.ErrNoRows {
		return inc, ErrNotFound
	}
	return inc, err
}

type IncidentFilters struct {
	ClientID int64
	Source   string
	Status   string
	Severity string
	Limit    int
}

func (r Repo) ListIncidents(ctx context.Context, f IncidentFilters) ([]domain.MonitoringIncident, error) {
	var clauses []string
	var args []any
	if f.ClientID != 0 {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.Source != "" {
		clauses = append(clauses, "source=?")
		args = append(args, f.Source)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity=?")
		args = append(args, f.Severity)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + incidentCols + ` FROM monitoring_incidents ` + where + ` ORDER BY occurred_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MonitoringIncident
	for rows.Next() {
		inc, err := scanIncidentRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, inc)
	}
	return res, rows.Err()
}

func (r Repo) UpdateIncidentTx(ctx context.Context, tx *sql.Tx, inc domain.MonitoringIncident) error {
	res, err := tx.ExecContext(ctx, `UPDATE monitoring_incidents SET severity=?,message=?,status=?,ticket_id=?,updated_at=? WHERE id=?`,
		inc.Severity, inc.Message, inc.Status, inc.TicketID, fmtTime(inc.UpdatedAt), inc.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
