package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opsdesk/internal/app"
	"opsdesk/internal/config"
	"opsdesk/internal/db"
	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/repo"
	"opsdesk/internal/seed"
	"opsdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "od",
	Short: "Opsdesk CLI",
	Long: `Opsdesk is a service-desk core for managed service providers.
It keeps clients, assets, contracts, tickets, tasks, and appointments in a
single workspace database, deduplicates monitoring events into incidents
with auto-opened tickets, builds daily dispatch plans for field engineers,
and scores churn and engineer-load risk. View the change diary with
'od log tail'.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load()
	viper.SetEnvPrefix("OPSDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(companyCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(ticketCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(appointmentCmd())
	rootCmd.AddCommand(incidentCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(forecastsCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialise a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, _, err := app.Bootstrap(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("config %s already exists\n", path)
				return nil
			}
			if projectID == "" {
				projectID = "opsdesk"
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("initialised workspace: %s (database %s)\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project identifier for the generated config")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load demo data into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := seed.Demo(ctx, e); err != nil {
					return err
				}
				fmt.Println("demo data loaded")
				return nil
			})
		},
	}
}

func companyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "company", Short: "Manage companies"}
	cmd.AddCommand(companyCreateCmd())
	cmd.AddCommand(companyListCmd())
	return cmd
}

func companyCreateCmd() *cobra.Command {
	var name, industry, hq string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create company",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCompany(ctx, domain.Company{Name: name, Industry: industry, Headquarters: hq})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "company name")
	cmd.Flags().StringVar(&industry, "industry", "", "industry")
	cmd.Flags().StringVar(&hq, "headquarters", "", "headquarters")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func companyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List companies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCompanies(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Industry", "Headquarters"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Industry, c.Headquarters})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "client", Short: "Manage clients"}
	cmd.AddCommand(clientCreateCmd())
	cmd.AddCommand(clientListCmd())
	cmd.AddCommand(clientShowCmd())
	cmd.AddCommand(clientOverviewCmd())
	cmd.AddCommand(clientNoteCmd())
	cmd.AddCommand(clientDeleteCmd())
	return cmd
}

func clientCreateCmd() *cobra.Command {
	var name, email, phone, address string
	var companyID int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c := domain.Client{Name: name, Email: email, Phone: phone, Address: address}
				if companyID > 0 {
					c.CompanyID = &companyID
				}
				created, err := e.CreateClient(ctx, c)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "client name")
	cmd.Flags().StringVar(&email, "email", "", "contact email")
	cmd.Flags().StringVar(&phone, "phone", "", "contact phone")
	cmd.Flags().StringVar(&address, "address", "", "postal address")
	cmd.Flags().Int64Var(&companyID, "company", 0, "company id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func clientListCmd() *cobra.Command {
	var f repo.ClientFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListClients(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Phone", "Company"})
				for _, c := range items {
					company := ""
					if c.CompanyID != nil {
						company = fmt.Sprint(*c.CompanyID)
					}
					tw.AppendRow(table.Row{c.ID, c.Name, c.Email, c.Phone, company})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&f.CompanyID, "company", 0, "filter by company id")
	cmd.Flags().StringVar(&f.Search, "search", "", "name/email substring")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func clientShowCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				c, err := r.GetClient(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "client id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func clientOverviewCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Client overview with metrics and risk insights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ov, err := e.GetClientOverview(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(ov)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "client id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func clientNoteCmd() *cobra.Command {
	var id int64
	var author, body string
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Add a client note",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.AddClientNote(ctx, domain.ClientNote{ClientID: id, Author: author, Body: body})
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "client id")
	cmd.Flags().StringVar(&author, "author", "", "note author")
	cmd.Flags().StringVar(&body, "body", "", "note text")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func clientDeleteCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteClient(ctx, id); err != nil {
					return err
				}
				fmt.Printf("client %d deleted\n", id)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "client id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func ticketCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ticket", Short: "Manage tickets"}
	cmd.AddCommand(ticketCreateCmd())
	cmd.AddCommand(ticketListCmd())
	cmd.AddCommand(ticketShowCmd())
	cmd.AddCommand(ticketUpdateCmd())
	cmd.AddCommand(ticketNoteCmd())
	return cmd
}

func ticketCreateCmd() *cobra.Command {
	var clientID int64
	var subject, description, priority, status, assignedTo, due string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create ticket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t := domain.Ticket{
					ClientID:    clientID,
					Subject:     subject,
					Description: description,
					Priority:    priority,
					Status:      status,
					AssignedTo:  assignedTo,
				}
				if due != "" {
					d, err := parseDateFlag(due)
					if err != nil {
						return err
					}
					t.DueDate = &d
				}
				created, err := e.CreateTicket(ctx, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().Int64Var(&clientID, "client", 0, "client id")
	cmd.Flags().StringVar(&subject, "subject", "", "subject")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "normal", "priority: low|normal|high")
	cmd.Flags().StringVar(&status, "status", "open", "status")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "assignee")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func ticketListCmd() *cobra.Command {
	var f repo.TicketFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tickets, err := r.ListTickets(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tickets)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Subject", "Priority", "Status", "Assignee", "Due"})
				for _, t := range tickets {
					due := ""
					if t.DueDate != nil {
						due = t.DueDate.Format("2006-01-02")
					}
					tw.AppendRow(table.Row{t.ID, t.ClientID, t.Subject, t.Priority, t.Status, t.AssignedTo, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&f.ClientID, "client", 0, "filter by client id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assigned-to", "", "assignee filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func ticketShowCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a ticket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTicket(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "ticket id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func ticketUpdateCmd() *cobra.Command {
	var id int64
	var subject, description, priority, status, assignedTo, due string
	var clearDue bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a ticket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.TicketUpdateOptions{
					ID:           id,
					Subject:      optionalString(subject),
					Description:  optionalString(description),
					Priority:     optionalString(priority),
					Status:       optionalString(status),
					AssignedTo:   optionalString(assignedTo),
					ClearDueDate: clearDue,
				}
				if due != "" {
					d, err := parseDateFlag(due)
					if err != nil {
						return err
					}
					opts.DueDate = &d
				}
				t, err := e.UpdateTicket(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "ticket id")
	cmd.Flags().StringVar(&subject, "subject", "", "subject")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "assignee")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "remove the due date")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func ticketNoteCmd() *cobra.Command {
	var id int64
	var author, body string
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Add a ticket note",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.AddTicketNote(ctx, domain.TicketNote{TicketID: id, Author: author, Body: body})
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "ticket id")
	cmd.Flags().StringVar(&author, "author", "", "note author")
	cmd.Flags().StringVar(&body, "body", "", "note text")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskCompleteCmd())
	cmd.AddCommand(taskDeleteCmd())
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var clientID int64
	var title, description, priority, status, assignedTo, due string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t := domain.Task{
					Title:       title,
					Description: description,
					Priority:    priority,
					Status:      status,
					AssignedTo:  assignedTo,
				}
				if clientID > 0 {
					t.ClientID = &clientID
				}
				if due != "" {
					d, err := parseDateFlag(due)
					if err != nil {
						return err
					}
					t.DueDate = &d
				}
				created, err := e.CreateTask(ctx, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().Int64Var(&clientID, "client", 0, "client id")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "normal", "priority")
	cmd.Flags().StringVar(&status, "status", "pending", "status")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "assignee")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tasks, err := r.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Due"})
				for _, t := range tasks {
					due := ""
					if t.DueDate != nil {
						due = t.DueDate.Format("2006-01-02")
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, t.AssignedTo, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&f.ClientID, "client", 0, "filter by client id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assigned-to", "", "assignee filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Mark a task completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CompleteTask(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "task id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTask(ctx, id); err != nil {
					return err
				}
				fmt.Printf("task %d deleted\n", id)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "task id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func appointmentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "appointment", Short: "Manage appointments"}
	cmd.AddCommand(appointmentCreateCmd())
	cmd.AddCommand(appointmentListCmd())
	return cmd
}

func appointmentCreateCmd() *cobra.Command {
	var clientID int64
	var title, description, start, assignedTo, location, notes string
	var duration int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return fmt.Errorf("invalid --start %q, want RFC3339", start)
				}
				a, err := e.CreateAppointment(ctx, domain.Appointment{
					ClientID:        clientID,
					Title:           title,
					Description:     description,
					StartTime:       st.UTC(),
					DurationMinutes: duration,
					AssignedTo:      assignedTo,
					Location:        location,
					Notes:           notes,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().Int64Var(&clientID, "client", 0, "client id")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&start, "start", "", "start time (RFC3339)")
	cmd.Flags().IntVar(&duration, "duration", 60, "duration in minutes")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "engineer")
	cmd.Flags().StringVar(&location, "location", "", "location")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func appointmentListCmd() *cobra.Command {
	var f repo.AppointmentFilters
	var date string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date != "" {
				day, err := parseDateFlag(date)
				if err != nil {
					return err
				}
				f.From = day
				f.Until = day.AddDate(0, 0, 1).Add(-time.Second)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				appts, err := r.ListAppointments(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(appts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Title", "Start", "Minutes", "Status", "Engineer"})
				for _, a := range appts {
					tw.AppendRow(table.Row{a.ID, a.ClientID, a.Title, a.StartTime.Format(time.RFC3339), a.DurationMinutes, a.Status, a.AssignedTo})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&f.ClientID, "client", 0, "filter by client id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assigned-to", "", "engineer filter")
	cmd.Flags().StringVar(&date, "date", "", "calendar date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func incidentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "incident", Short: "Monitoring incidents"}
	cmd.AddCommand(incidentListCmd())
	cmd.AddCommand(incidentShowCmd())
	cmd.AddCommand(incidentUpdateCmd())
	return cmd
}

func incidentListCmd() *cobra.Command {
	var f repo.IncidentFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List monitoring incidents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				incidents, err := r.ListIncidents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(incidents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Source", "External", "Severity", "Status", "Ticket"})
				for _, inc := range incidents {
					ticket := ""
					if inc.TicketID != nil {
						ticket = fmt.Sprint(*inc.TicketID)
					}
					tw.AppendRow(table.Row{inc.ID, inc.ClientID, inc.Source, inc.ExternalID, inc.Severity, inc.Status, ticket})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&f.ClientID, "client", 0, "filter by client id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Severity, "severity", "", "severity filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func incidentShowCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show an incident and its linked ticket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.GetIncident(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "incident id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func incidentUpdateCmd() *cobra.Command {
	var id, ticketID int64
	var status, severity, message string
	var clearTicket bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update an incident",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.IncidentUpdateOptions{
					ID:          id,
					Status:      optionalString(status),
					Severity:    optionalString(severity),
					Message:     optionalString(message),
					ClearTicket: clearTicket,
				}
				if ticketID > 0 {
					opts.TicketID = &ticketID
				}
				res, err := e.UpdateIncident(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "incident id")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&severity, "severity", "", "severity")
	cmd.Flags().StringVar(&message, "message", "", "message")
	cmd.Flags().Int64Var(&ticketID, "ticket", 0, "link to ticket id")
	cmd.Flags().BoolVar(&clearTicket, "clear-ticket", false, "unlink the ticket")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func ingestCmd() *cobra.Command {
	var clientID int64
	var eventID, severity, message, problem, status, assignedTo string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a monitoring event",
		Long:  "Feed one monitoring event through deduplication. The first event for a (source, external id) pair opens an incident and a ticket; repeats update the incident in place.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.IngestIncident(ctx, engine.IngestOptions{
					EventID:    eventID,
					ClientID:   clientID,
					Severity:   severity,
					Message:    message,
					Problem:    problem,
					Status:     status,
					AssignedTo: assignedTo,
				})
				if err != nil {
					return err
				}
				if res.Created {
					fmt.Printf("incident %d opened (ticket %s)\n", res.Incident.ID, ticketRef(res.Ticket))
				} else {
					fmt.Printf("incident %d updated\n", res.Incident.ID)
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&eventID, "event-id", "", "monitoring event id")
	cmd.Flags().Int64Var(&clientID, "client", 0, "client id")
	cmd.Flags().StringVar(&severity, "severity", "", "severity")
	cmd.Flags().StringVar(&message, "message", "", "event message")
	cmd.Flags().StringVar(&problem, "problem", "", "problem summary")
	cmd.Flags().StringVar(&status, "status", "", "event status")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "ticket assignee")
	_ = cmd.MarkFlagRequired("event-id")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("severity")
	return cmd
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "schedule", Short: "Dispatch planning"}
	cmd.AddCommand(scheduleOptimizeCmd())
	return cmd
}

func scheduleOptimizeCmd() *cobra.Command {
	var date string
	var buffer, workday int
	var engineers []string
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Build a dispatch plan for one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				day, err := parseDateFlag(date)
				if err != nil {
					return err
				}
				plan, err := e.OptimizeSchedule(ctx, engine.OptimizeOptions{
					Date:                day,
					TravelBufferMinutes: buffer,
					WorkdayMinutes:      workday,
					Engineers:           engineers,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plan)
				}
				fmt.Printf("plan %s: %d appointments, %d reassignments\n", plan.ID, plan.AppointmentsConsidered, plan.Reassignments)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Appt", "Client", "Engineer", "Start", "End", "Notes"})
				for _, s := range plan.Suggestions {
					tw.AppendRow(table.Row{
						s.AppointmentID, s.Client, s.RecommendedEngineer,
						s.OptimizedStart.Format("15:04"), s.OptimizedEnd.Format("15:04"),
						s.Notes,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "plan date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&buffer, "travel-buffer", 0, "travel buffer minutes (default from config)")
	cmd.Flags().IntVar(&workday, "workday", 0, "workday minutes (default from config)")
	cmd.Flags().StringSliceVar(&engineers, "engineer", nil, "engineer roster (repeatable)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func forecastsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forecasts",
		Short: "Churn and engineer load forecasts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.Forecasts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Client", "Churn", "Level", "Recommendation"})
				for _, row := range report.ClientChurn {
					tw.AppendRow(table.Row{row.ClientName, row.ChurnProbability, row.ChurnLevel, row.Recommendation})
				}
				tw.Render()
				tw = table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Engineer", "Tasks", "Minutes", "Utilisation", "Status"})
				for _, row := range report.EngineerLoad {
					tw.AppendRow(table.Row{row.Engineer, row.OpenTasks, row.ScheduledMinutes, row.Utilisation, row.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Operational counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Dashboard(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(counts)
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: incidents, tickets, tasks, schedule plans, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.Bootstrap(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Opsdesk API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, cfg, err := app.Bootstrap(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, _, err := app.Bootstrap(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDateFlag(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ticketRef(t *domain.Ticket) string {
	if t == nil {
		return "none"
	}
	return fmt.Sprint(t.ID)
}
