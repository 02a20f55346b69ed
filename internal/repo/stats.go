package repo

import (
	"context"
	"time"
)

// DashboardCounts holds the aggregate counters for the overview screen.
type DashboardCounts struct {
	TotalClients            int `json:"total_clients"`
	OpenTickets             int `json:"open_tickets"`
	HighPriorityTickets     int `json:"high_priority_tickets"`
	ActiveContracts         int `json:"active_contracts"`
	OpenTasks               int `json:"open_tasks"`
	UpcomingAppointments    int `json:"upcoming_appointments"`
	OpenMonitoringIncidents int `json:"open_monitoring_incidents"`
}

func (r Repo) Dashboard(ctx context.Context, now time.Time) (DashboardCounts, error) {
	var d DashboardCounts
	queries := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&d.TotalClients, `SELECT COUNT(*) FROM clients`, nil},
		{&d.OpenTickets, `SELECT COUNT(*) FROM tickets WHERE status='open'`, nil},
		{&d.HighPriorityTickets, `SELECT COUNT(*) FROM tickets WHERE status='open' AND priority='high'`, nil},
		{&d.ActiveContracts, `SELECT COUNT(*) FROM service_contracts WHERE start_date<=? AND end_date>=?`, []any{fmtTime(now), fmtTime(now)}},
		{&d.OpenTasks, `SELECT COUNT(*) FROM tasks WHERE status!='completed'`, nil},
		{&d.UpcomingAppointments, `SELECT COUNT(*) FROM appointments WHERE status='scheduled' AND start_time>=?`, []any{fmtTime(now)}},
		{&d.OpenMonitoringIncidents, `SELECT COUNT(*) FROM monitoring_incidents WHERE status!='resolved'`, nil},
	}
	for _, q := range queries {
		if err := r.DB.QueryRowContext(ctx, q.query, q.args...).Scan(q.dest); err != nil {
			return DashboardCounts{}, err
		}
	}
	return d, nil
}
