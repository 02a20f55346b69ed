package seed

import (
	"context"
	"fmt"
	"time"

	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
)

// Demo populates the workspace with a small demo dataset: two companies with
// one client each, plus assets, contracts, tickets, tasks, appointments, and
// one ingested monitoring incident.
func Demo(ctx context.Context, e engine.Engine) error {
	now := time.Now().UTC()

	acmeCorp, err := e.CreateCompany(ctx, domain.Company{
		Name: "Acme", Industry: "Manufacturing", Headquarters: "Springfield",
	})
	if err != nil {
		return fmt.Errorf("seed company: %w", err)
	}
	globexCorp, err := e.CreateCompany(ctx, domain.Company{
		Name: "Globex", Industry: "Technology", Headquarters: "Metropolis",
	})
	if err != nil {
		return fmt.Errorf("seed company: %w", err)
	}

	acme, err := e.CreateClient(ctx, domain.Client{
		Name:      "Acme Industries",
		Email:     "it@acme.test",
		Phone:     "+1-555-1010",
		Address:   "742 Evergreen Terrace",
		CompanyID: &acmeCorp.ID,
	})
	if err != nil {
		return fmt.Errorf("seed client: %w", err)
	}
	globex, err := e.CreateClient(ctx, domain.Client{
		Name:      "Globex Corp",
		Email:     "support@globex.test",
		Phone:     "+1-555-2020",
		Address:   "123 Main Street",
		CompanyID: &globexCorp.ID,
	})
	if err != nil {
		return fmt.Errorf("seed client: %w", err)
	}

	notes := []domain.ClientNote{
		{ClientID: acme.ID, Author: "Admin", Body: "Prefers email updates"},
		{ClientID: globex.ID, Author: "Admin", Body: "Monthly on-site visits"},
	}
	for _, n := range notes {
		if _, err := e.AddClientNote(ctx, n); err != nil {
			return fmt.Errorf("seed note: %w", err)
		}
	}

	assets := []domain.Asset{
		{ClientID: acme.ID, Name: "Firewall", AssetType: "Network", SerialNumber: "FW-ACME-001", Location: "HQ Server Room"},
		{ClientID: globex.ID, Name: "Exchange Server", AssetType: "Server", SerialNumber: "EX-GLOBEX-002", Location: "HQ Rack 4"},
	}
	for _, a := range assets {
		if _, err := e.CreateAsset(ctx, a); err != nil {
			return fmt.Errorf("seed asset: %w", err)
		}
	}

	contracts := []domain.ServiceContract{
		{
			ClientID:     acme.ID,
			Title:        "Gold Support",
			Description:  "24/7 support with 1 hour response",
			StartDate:    now,
			EndDate:      now.AddDate(0, 0, 365),
			SupportLevel: "Gold",
		},
		{
			ClientID:     globex.ID,
			Title:        "Silver Support",
			Description:  "Business hours support",
			StartDate:    now,
			EndDate:      now.AddDate(0, 0, 180),
			SupportLevel: "Silver",
		},
	}
	for _, c := range contracts {
		if _, err := e.CreateContract(ctx, c); err != nil {
			return fmt.Errorf("seed contract: %w", err)
		}
	}

	vpnDue := now.AddDate(0, 0, 1)
	vpnTicket, err := e.CreateTicket(ctx, domain.Ticket{
		ClientID:    acme.ID,
		Subject:     "VPN outage",
		Description: "Remote staff cannot connect",
		Priority:    "high",
		Status:      "open",
		AssignedTo:  "Alice",
		DueDate:     &vpnDue,
	})
	if err != nil {
		return fmt.Errorf("seed ticket: %w", err)
	}
	if _, err := e.AddTicketNote(ctx, domain.TicketNote{
		TicketID: vpnTicket.ID,
		Author:   "Alice",
		Body:     "Investigating VPN gateway logs",
	}); err != nil {
		return fmt.Errorf("seed ticket note: %w", err)
	}

	patchDue := now.AddDate(0, 0, 3)
	reportDue := now.AddDate(0, 0, 14)
	tasks := []domain.Task{
		{
			ClientID:    &acme.ID,
			Title:       "Install security patches",
			Description: "Patch all Acme servers to the latest LTS release",
			Status:      "in_progress",
			Priority:    "high",
			DueDate:     &patchDue,
			AssignedTo:  "Alice",
			CreatedBy:   "System",
		},
		{
			ClientID:    &globex.ID,
			Title:       "Prepare quarterly report",
			Description: "Compile uptime and SLA metrics for Globex",
			Status:      "pending",
			Priority:    "normal",
			DueDate:     &reportDue,
			AssignedTo:  "Bob",
			CreatedBy:   "System",
		},
	}
	for _, t := range tasks {
		if _, err := e.CreateTask(ctx, t); err != nil {
			return fmt.Errorf("seed task: %w", err)
		}
	}

	appointments := []domain.Appointment{
		{
			ClientID:        acme.ID,
			Title:           "Monthly on-site maintenance",
			Description:     "Check backups and firmware levels",
			StartTime:       now.Add(74 * time.Hour),
			DurationMinutes: 120,
			Status:          "scheduled",
			AssignedTo:      "Alice",
			Location:        "Acme HQ",
			Notes:           "Bring spare SSDs",
		},
		{
			ClientID:        globex.ID,
			Title:           "Quarterly strategy call",
			Description:     "Review SLA metrics and renewal options",
			StartTime:       now.Add(-120 * time.Hour),
			DurationMinutes: 90,
			Status:          "completed",
			AssignedTo:      "Bob",
			Location:        "Video conference",
			Notes:           "Share roadmap deck",
		},
	}
	for _, a := range appointments {
		if _, err := e.CreateAppointment(ctx, a); err != nil {
			return fmt.Errorf("seed appointment: %w", err)
		}
	}

	occurred := now.Add(-2 * time.Hour)
	if _, err := e.IngestIncident(ctx, engine.IngestOptions{
		EventID:    "EVT-1001",
		ClientID:   acme.ID,
		Severity:   "high",
		Message:    "Zabbix detected packet loss on core router",
		Problem:    "Packet loss on core router",
		OccurredAt: &occurred,
	}); err != nil {
		return fmt.Errorf("seed incident: %w", err)
	}

	return nil
}
