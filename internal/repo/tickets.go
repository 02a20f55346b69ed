package repo

import (
	"context"
	"database/sql"
	"strings"

	"opsdesk/internal/domain"
)

const ticketCols = `id,client_id,subject,COALESCE(description,''),priority,status,COALESCE(assigned_to,''),due_date,created_at,updated_at`

func scanTicketRow(scan func(dest ...any) error) (domain.Ticket, error) {
	var t domain.Ticket
	var dueDate sql.NullString
	var createdAt, updatedAt string
	if err := scan(&t.ID, &t.ClientID, &t.Subject, &t.Description, &t.Priority, &t.Status, &t.AssignedTo, &dueDate, &createdAt, &updatedAt); err != nil {
		return t, err
	}
	t.DueDate = timePtr(dueDate)
	t.CreatedAt = parseTS(createdAt)
	t.UpdatedAt = parseTS(updatedAt)
	return t, nil
}

func (r Repo) InsertTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO tickets(client_id,subject,description,priority,status,assigned_to,due_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ClientID, t.Subject, nullable(t.Description), t.Priority, t.Status, nullable(t.AssignedTo), nullableTime(t.DueDate), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	if err != nil {
		return domain.Ticket{}, err
	}
	t.ID, err = res.LastInsertId()
	return t, err
}

func (r Repo) InsertTicketTx(ctx context.Context, tx *sql.Tx, t domain.Ticket) (domain.Ticket, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tickets(client_id,subject,description,priority,status,assigned_to,due_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ClientID, t.Subject, nullable(t.Description), t.Priority, t.Status, nullable(t.AssignedTo), nullableTime(t.DueDate), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	if err != nil {
		return domain.Ticket{}, err
	}
	t.ID, err = res.LastInsertId()
	return t, err
}

func (r Repo) GetTicket(ctx context.Context, id int64) (domain.Ticket, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ticketCols+` FROM tickets WHERE id=?`, id)
	t, err := scanTicketRow(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

type TicketFilters struct {
	ClientID   int64
	Status     string
	Priority   string
	AssignedTo string
	Limit      int
}

func (r Repo) ListTickets(ctx context.Context, f TicketFilters) ([]domain.Ticket, error) {
	var clauses []string
	var args []any
	if f.ClientID != 0 {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + ticketCols + ` FROM tickets ` + where + ` ORDER BY priority DESC, created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Ticket
	for rows.Next() {
		t, err := scanTicketRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTicket(ctx context.Context, t domain.Ticket) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tickets SET subject=?,description=?,priority=?,status=?,assigned_to=?,due_date=?,updated_at=? WHERE id=?`,
		t.Subject, nullable(t.Description), t.Priority, t.Status, nullable(t.AssignedTo), nullableTime(t.DueDate), fmtTime(t.UpdatedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTicketStatusTx moves a ticket with the rest of its transaction,
// used when resolving an incident closes the linked ticket.
func (r Repo) UpdateTicketStatusTx(ctx context.Context, tx *sql.Tx, id int64, status string, at string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tickets SET status=?,updated_at=? WHERE id=?`, status, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertTicketNote(ctx context.Context, n domain.TicketNote) (domain.TicketNote, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO ticket_notes(ticket_id,author,body,created_at) VALUES (?,?,?,?)`,
		n.TicketID, n.Author, n.Body, fmtTime(n.CreatedAt))
	if err != nil {
		return domain.TicketNote{}, err
	}
	n.ID, err = res.LastInsertId()
	return n, err
}

func (r Repo) ListTicketNotes(ctx context.Context, ticketID int64) ([]domain.TicketNote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ticket_id,author,body,created_at FROM ticket_notes WHERE ticket_id=? ORDER BY created_at DESC, id DESC`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TicketNote
	for rows.Next() {
		var n domain.TicketNote
		var createdAt string
		if err := rows.Scan(&n.ID, &n.TicketID, &n.Author, &n.Body, &createdAt); err != nil {
			return nil, err
		}
		n.CreatedAt = parseTS(createdAt)
		res = append(res, n)
	}
	return res, rows.Err()
}
