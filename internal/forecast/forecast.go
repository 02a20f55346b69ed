// Package forecast derives churn risk and engineer load from current
// client data. All functions are pure and take the clock as input.
package forecast

import (
	"math"
	"sort"
	"time"

	"opsdesk/internal/domain"
)

const DefaultWorkdayMinutes = 480

type ChurnAssessment struct {
	ClientID                int64   `json:"client_id"`
	ClientName              string  `json:"client_name"`
	ChurnProbability        float64 `json:"churn_probability"`
	ChurnLevel              string  `json:"churn_level" enum:"low,medium,high"`
	OpenTickets             int     `json:"open_tickets"`
	OpenHighPriorityTickets int     `json:"open_high_priority_tickets"`
	OpenTasks               int     `json:"open_tasks"`
	MonitoringIncidents     int     `json:"monitoring_incidents"`
	Recommendation          string  `json:"recommendation"`
}

type EngineerLoad struct {
	Engineer         string  `json:"engineer"`
	OpenTasks        int     `json:"open_tasks"`
	ScheduledMinutes int     `json:"scheduled_minutes"`
	Utilisation      float64 `json:"utilisation"`
	Status           string  `json:"status" enum:"underutilised,balanced,overloaded"`
}

// AssessChurn scores one client from its tickets, tasks, appointments
// and monitoring incidents. The probability stays within [0.05, 0.95].
func AssessChurn(client domain.Client, tickets []domain.Ticket, tasks []domain.Task, appointments []domain.Appointment, incidents []domain.MonitoringIncident, now time.Time) ChurnAssessment {
	today := dateOf(now)

	openTickets := 0
	highPriority := 0
	for _, t := range tickets {
		if t.Status != "open" {
			continue
		}
		openTickets++
		if t.Priority == "high" {
			highPriority++
		}
	}
	openTasks := 0
	overdueTasks := 0
	for _, t := range tasks {
		if t.Status == "completed" {
			continue
		}
		openTasks++
		if t.DueDate != nil && dateOf(*t.DueDate).Before(today) {
			overdueTasks++
		}
	}
	missed := 0
	for _, a := range appointments {
		if a.Status == "cancelled" {
			missed++
		}
	}
	openIncidents := 0
	for _, inc := range incidents {
		if inc.Status != "resolved" {
			openIncidents++
		}
	}

	probability := 0.05
	probability += math.Min(0.3, float64(openTickets)*0.05)
	probability += math.Min(0.3, float64(highPriority)*0.1)
	probability += math.Min(0.2, float64(overdueTasks)*0.08)
	if missed > 0 {
		probability += 0.1
	}
	if daysBetween(client.UpdatedAt, now) > 30 {
		probability += 0.05
	}
	probability = math.Min(probability, 0.95)

	level := "low"
	recommendation := "Maintain regular check-ins"
	switch {
	case probability >= 0.6:
		level = "high"
		recommendation = "Escalate to account manager for recovery plan"
	case probability >= 0.35:
		level = "medium"
		recommendation = "Schedule proactive review within two weeks"
	}

	return ChurnAssessment{
		ClientID:                client.ID,
		ClientName:              client.Name,
		ChurnProbability:        round2(probability),
		ChurnLevel:              level,
		OpenTickets:             openTickets,
		OpenHighPriorityTickets: highPriority,
		OpenTasks:               openTasks,
		MonitoringIncidents:     openIncidents,
		Recommendation:          recommendation,
	}
}

// EngineerLoads aggregates open tasks and scheduled appointment minutes
// per engineer. Engineers with no open work do not appear. Results are
// sorted by engineer name.
func EngineerLoads(tasks []domain.Task, appointments []domain.Appointment, workdayMinutes int) []EngineerLoad {
	if workdayMinutes <= 0 {
		workdayMinutes = DefaultWorkdayMinutes
	}
	type bucket struct {
		openTasks int
		minutes   int
	}
	workload := map[string]*bucket{}
	get := func(engineer string) *bucket {
		b, ok := workload[engineer]
		if !ok {
			b = &bucket{}
			workload[engineer] = b
		}
		return b
	}
	for _, t := range tasks {
		if t.Status != "completed" && t.AssignedTo != "" {
			get(t.AssignedTo).openTasks++
		}
	}
	for _, a := range appointments {
		if a.Status == "scheduled" && a.AssignedTo != "" {
			get(a.AssignedTo).minutes += a.DurationMinutes
		}
	}

	loads := make([]EngineerLoad, 0, len(workload))
	for engineer, b := range workload {
		utilisation := math.Min(1.0, float64(b.minutes)/float64(workdayMinutes))
		score := math.Min(1.0, float64(b.openTasks)*0.05+utilisation)
		status := "balanced"
		switch {
		case score >= 0.8:
			status = "overloaded"
		case score <= 0.35:
			status = "underutilised"
		}
		loads = append(loads, EngineerLoad{
			Engineer:         engineer,
			OpenTasks:        b.openTasks,
			ScheduledMinutes: b.minutes,
			Utilisation:      round2(utilisation),
			Status:           status,
		})
	}
	sort.Slice(loads, func(i, j int) bool { return loads[i].Engineer < loads[j].Engineer })
	return loads
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
