package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"opsdesk/internal/config"
	"opsdesk/internal/db"
	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/migrate"
	"opsdesk/internal/schedule"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("opsdesk")
	cfg.Schedule.Engineers = []string{"dana", "lee"}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/api"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createTestClient(t *testing.T, srv *testServer) domain.Client {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/clients", map[string]any{
		"name":  "Acme Industrial",
		"email": "ops@acme.test",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create client status %d: %s", res.StatusCode, string(data))
	}
	var c domain.Client
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal client: %v", err)
	}
	return c
}

func TestIngestCreatesThenUpdates(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := createTestClient(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/integrations/zabbix/events", map[string]any{
		"event_id":  "44021",
		"client_id": client.ID,
		"severity":  "Disaster",
		"problem":   "Core switch unreachable",
		"message":   "ICMP loss 100%",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first ingest status %d: %s", res.StatusCode, string(data))
	}
	var first IncidentResponse
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatalf("unmarshal ingest response: %v", err)
	}
	if first.Ticket == nil {
		t.Fatal("expected a ticket on first ingest")
	}
	if first.Ticket.Priority != "high" {
		t.Fatalf("ticket priority = %q, want high", first.Ticket.Priority)
	}
	if first.Ticket.Subject != "[Zabbix] Core switch unreachable" {
		t.Fatalf("ticket subject = %q", first.Ticket.Subject)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/integrations/zabbix/events", map[string]any{
		"event_id":  "44021",
		"client_id": client.ID,
		"severity":  "warning",
		"message":   "ICMP loss 40%",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("repeat ingest status %d: %s", res.StatusCode, string(data))
	}
	var second IncidentResponse
	if err := json.Unmarshal(data, &second); err != nil {
		t.Fatalf("unmarshal repeat response: %v", err)
	}
	if second.Incident.ID != first.Incident.ID {
		t.Fatalf("repeat opened a new incident: %d vs %d", second.Incident.ID, first.Incident.ID)
	}
	if second.Incident.Severity != "warning" {
		t.Fatalf("severity = %q, want warning", second.Incident.Severity)
	}
}

func TestIngestResolvedClosesTicket(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := createTestClient(t, srv)

	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/integrations/zabbix/events", map[string]any{
		"event_id":  "500",
		"client_id": client.ID,
		"severity":  "high",
		"message":   "Disk almost full",
	}, nil)
	var opened IncidentResponse
	if err := json.Unmarshal(data, &opened); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/integrations/zabbix/events", map[string]any{
		"event_id":  "500",
		"client_id": client.ID,
		"severity":  "high",
		"message":   "Disk recovered",
		"status":    "resolved",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(data))
	}
	var resolved IncidentResponse
	if err := json.Unmarshal(data, &resolved); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resolved.Incident.Status != "resolved" {
		t.Fatalf("incident status = %q", resolved.Incident.Status)
	}
	if resolved.Ticket == nil || resolved.Ticket.Status != "resolved" {
		t.Fatalf("linked ticket not resolved: %+v", resolved.Ticket)
	}
}

func TestIngestValidationAndUnknownClient(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := createTestClient(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/integrations/zabbix/events", map[string]any{
		"client_id": client.ID,
		"severity":  "high",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing event_id status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "bad_request" {
		t.Fatalf("error code = %q", envelope.Error.Code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/integrations/zabbix/events", map[string]any{
		"event_id":  "9",
		"client_id": 99999,
		"severity":  "high",
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown client status %d: %s", res.StatusCode, string(data))
	}
}

func TestPatchIncidentClearTicket(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := createTestClient(t, srv)

	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/integrations/zabbix/events", map[string]any{
		"event_id":  "77",
		"client_id": client.ID,
		"severity":  "average",
		"message":   "Service flapping",
	}, nil)
	var opened IncidentResponse
	if err := json.Unmarshal(data, &opened); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/api/monitoring/incidents/"+itoa(opened.Incident.ID), map[string]any{
		"status":       "acknowledged",
		"clear_ticket": true,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(data))
	}
	var patched IncidentResponse
	if err := json.Unmarshal(data, &patched); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if patched.Incident.Status != "acknowledged" {
		t.Fatalf("status = %q", patched.Incident.Status)
	}
	if patched.Incident.TicketID != nil {
		t.Fatalf("ticket link not cleared: %v", *patched.Incident.TicketID)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/api/monitoring/incidents/"+itoa(opened.Incident.ID), map[string]any{
		"ticket_id": 4242,
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("relink to missing ticket status %d: %s", res.StatusCode, string(data))
	}
}

func TestOptimizeScheduleEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := createTestClient(t, srv)

	day := time.Now().UTC().AddDate(0, 0, 1)
	start := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, time.UTC)
	assignees := []string{"dana", ""}
	for i, assignee := range assignees {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/appointments", map[string]any{
			"client_id":        client.ID,
			"title":            "On-site maintenance",
			"start_time":       start.Add(time.Duration(i*15) * time.Minute).Format(time.RFC3339),
			"duration_minutes": 60,
			"assigned_to":      assignee,
		}, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create appointment status %d: %s", res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/schedule/optimize", map[string]any{
		"date": start.Format("2006-01-02"),
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("optimize status %d: %s", res.StatusCode, string(data))
	}
	var plan schedule.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	if plan.AppointmentsConsidered != 2 {
		t.Fatalf("considered = %d, want 2", plan.AppointmentsConsidered)
	}
	if plan.Reassignments != 1 {
		t.Fatalf("reassignments = %d, want 1", plan.Reassignments)
	}
	if plan.Suggestions[1].RecommendedEngineer != "lee" {
		t.Fatalf("second visit went to %q, want lee", plan.Suggestions[1].RecommendedEngineer)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/schedule/optimize", map[string]any{}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing date status %d: %s", res.StatusCode, string(data))
	}
}

func TestForecastsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := createTestClient(t, srv)

	for i := 0; i < 3; i++ {
		doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/tickets", map[string]any{
			"client_id": client.ID,
			"subject":   "Recurring fault",
			"priority":  "normal",
		}, nil)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/analytics/forecasts", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("forecasts status %d: %s", res.StatusCode, string(data))
	}
	var report engine.ForecastReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if len(report.ClientChurn) != 1 {
		t.Fatalf("client churn rows = %d", len(report.ClientChurn))
	}
	row := report.ClientChurn[0]
	if row.OpenTickets != 3 {
		t.Fatalf("open tickets = %d", row.OpenTickets)
	}
	if row.ChurnLevel != "low" {
		t.Fatalf("churn level = %q", row.ChurnLevel)
	}
}

func TestDashboardAndEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := createTestClient(t, srv)

	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/integrations/zabbix/events", map[string]any{
		"event_id":  "1",
		"client_id": client.ID,
		"severity":  "high",
		"message":   "Backup job failed",
	}, nil)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/dashboard/overview", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status %d: %s", res.StatusCode, string(data))
	}
	var counts map[string]int
	if err := json.Unmarshal(data, &counts); err != nil {
		t.Fatalf("unmarshal counts: %v", err)
	}
	if counts["total_clients"] != 1 {
		t.Fatalf("total clients = %d", counts["total_clients"])
	}
	if counts["open_monitoring_incidents"] != 1 {
		t.Fatalf("open incidents = %d", counts["open_monitoring_incidents"])
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events?type=incident.ingested", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var evts []domain.Event
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("ingest events = %d", len(evts))
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
