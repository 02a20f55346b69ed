package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"opsdesk/internal/domain"
)

const taskCols = `id,client_id,title,COALESCE(description,''),status,priority,due_date,COALESCE(assigned_to,''),completed_at,COALESCE(created_by,''),created_at,updated_at`

func scanTaskRow(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var clientID sql.NullInt64
	var dueDate, completedAt sql.NullString
	var createdAt, updatedAt string
	if err := scan(&t.ID, &clientID, &t.Title, &t.Description, &t.Status, &t.Priority, &dueDate, &t.AssignedTo, &completedAt, &t.CreatedBy, &createdAt, &updatedAt); err != nil {
		return t, err
	}
	if clientID.Valid {
		t.ClientID = &clientID.Int64
	}
	t.DueDate = timePtr(dueDate)
	t.CompletedAt = timePtr(completedAt)
	t.CreatedAt = parseTS(createdAt)
	t.UpdatedAt = parseTS(updatedAt)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(client_id,title,description,status,priority,due_date,assigned_to,completed_at,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ClientID, t.Title, nullable(t.Description), t.Status, t.Priority, nullableTime(t.DueDate), nullable(t.AssignedTo), nullableTime(t.CompletedAt), nullable(t.CreatedBy), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	if err != nil {
		return domain.Task{}, err
	}
	t.ID, err = res.LastInsertId()
	return t, err
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	t, err := scanTaskRow(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

type TaskFilters struct {
	ClientID   int64
	Status     string
	AssignedTo string
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
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
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskCols + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET client_id=?,title=?,description=?,status=?,priority=?,due_date=?,assigned_to=?,completed_at=?,updated_at=? WHERE id=?`,
		t.ClientID, t.Title, nullable(t.Description), t.Status, t.Priority, nullableTime(t.DueDate), nullable(t.AssignedTo), nullableTime(t.CompletedAt), fmtTime(t.UpdatedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const appointmentCols = `id,client_id,title,COALESCE(description,''),start_time,duration_minutes,status,COALESCE(assigned_to,''),COALESCE(location,''),COALESCE(notes,''),created_at,updated_at`

func scanAppointmentRow(scan func(dest ...any) error) (domain.Appointment, error) {
	var a domain.Appointment
	var startTime, createdAt, updatedAt string
	if err := scan(&a.ID, &a.ClientID, &a.Title, &a.Description, &startTime, &a.DurationMinutes, &a.Status, &a.AssignedTo, &a.Location, &a.Notes, &createdAt, &updatedAt); err != nil {
		return a, err
	}
	a.StartTime = parseTS(startTime)
	a.CreatedAt = parseTS(createdAt)
	a.UpdatedAt = parseTS(updatedAt)
	return a, nil
}

func (r Repo) InsertAppointment(ctx context.Context, a domain.Appointment) (domain.Appointment, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO appointments(client_id,title,description,start_time,duration_minutes,status,assigned_to,location,notes,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ClientID, a.Title, nullable(a.Description), fmtTime(a.StartTime), a.DurationMinutes, a.Status, nullable(a.AssignedTo), nullable(a.Location), nullable(a.Notes), fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt))
	if err != nil {
		return domain.Appointment{}, err
	}
	a.ID, err = res.LastInsertId()
	return a, err
}

func (r Repo) GetAppointment(ctx context.Context, id int64) (domain.Appointment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id=?`, id)
	a, err := scanAppointmentRow(row.Scan)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

type AppointmentFilters struct {
	ClientID   int64
	Status     string
	AssignedTo string
	// From and Until bound start_time when non-zero.
	From  time.Time
	Until time.Time
	Limit int
}

func (r Repo) ListAppointments(ctx context.Context, f AppointmentFilters) ([]domain.Appointment, error) {
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
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "start_time>=?")
		args = append(args, fmtTime(f.From))
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "start_time<=?")
		args = append(args, fmtTime(f.Until))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + appointmentCols + ` FROM appointments ` + where + ` ORDER BY start_time ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Appointment
	for rows.Next() {
		a, err := scanAppointmentRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAppointment(ctx context.Context, a domain.Appointment) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE appointments SET title=?,description=?,start_time=?,duration_minutes=?,status=?,assigned_to=?,location=?,notes=?,updated_at=? WHERE id=?`,
		a.Title, nullable(a.Description), fmtTime(a.StartTime), a.DurationMinutes, a.Status, nullable(a.AssignedTo), nullable(a.Location), nullable(a.Notes), fmtTime(a.UpdatedAt), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAppointment(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM appointments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
