package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/repo"
	"opsdesk/internal/schedule"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"client 5: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Opsdesk API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Opsdesk API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDashboard(group, cfg.Engine)
	registerCompanies(group, cfg.Engine)
	registerClients(group, cfg.Engine)
	registerClientResources(group, cfg.Engine)
	registerTickets(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerAppointments(group, cfg.Engine)
	registerIntegrations(group, cfg.Engine)
	registerIncidents(group, cfg.Engine)
	registerSchedule(group, cfg.Engine)
	registerAnalytics(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Opsdesk API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDashboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard-overview",
		Method:      http.MethodGet,
		Path:        "/dashboard/overview",
		Summary:     "Operational counters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body repo.DashboardCounts `json:"body"`
	}, error) {
		counts, err := e.Dashboard(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.DashboardCounts `json:"body"`
		}{Body: counts}, nil
	})
}

func registerCompanies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-company",
		Method:        http.MethodPost,
		Path:          "/companies",
		Summary:       "Create company",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateCompanyRequest `json:"body"`
	}) (*struct {
		Body domain.Company `json:"body"`
	}, error) {
		c, err := e.CreateCompany(ctx, domain.Company{
			Name:         input.Body.Name,
			Industry:     input.Body.Industry,
			Headquarters: input.Body.Headquarters,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Company `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-companies",
		Method:      http.MethodGet,
		Path:        "/companies",
		Summary:     "List companies",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Company `json:"body"`
	}, error) {
		items, err := e.Repo.ListCompanies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Company `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-company",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}",
		Summary:     "Get company",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID int64 `path:"company_id"`
	}) (*struct {
		Body domain.Company `json:"body"`
	}, error) {
		c, err := e.Repo.GetCompany(ctx, input.CompanyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Company `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-company",
		Method:      http.MethodPatch,
		Path:        "/companies/{company_id}",
		Summary:     "Update company",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID int64                `path:"company_id"`
		Body      UpdateCompanyRequest `json:"body"`
	}) (*struct {
		Body domain.Company `json:"body"`
	}, error) {
		c, err := e.UpdateCompany(ctx, engine.CompanyUpdateOptions{
			ID:           input.CompanyID,
			Name:         input.Body.Name,
			Industry:     input.Body.Industry,
			Headquarters: input.Body.Headquarters,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Company `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-company",
		Method:        http.MethodDelete,
		Path:          "/companies/{company_id}",
		Summary:       "Delete company",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID int64 `path:"company_id"`
	}) (*struct{}, error) {
		if err := e.DeleteCompany(ctx, input.CompanyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerClients(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-client",
		Method:        http.MethodPost,
		Path:          "/clients",
		Summary:       "Create client",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateClientRequest `json:"body"`
	}) (*struct {
		Body domain.Client `json:"body"`
	}, error) {
		c, err := e.CreateClient(ctx, domain.Client{
			Name:      input.Body.Name,
			Email:     input.Body.Email,
			Phone:     input.Body.Phone,
			Address:   input.Body.Address,
			CompanyID: input.Body.CompanyID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Client `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
	}, func(ctx context.Context, input *struct {
		CompanyID int64  `query:"company_id"`
		Search    string `query:"search"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []domain.Client `json:"body"`
	}, error) {
		items, err := e.Repo.ListClients(ctx, repo.ClientFilters{
			CompanyID: input.CompanyID,
			Search:    input.Search,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Client `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}",
		Summary:     "Get client",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID int64 `path:"client_id"`
	}) (*struct {
		Body domain.Client `json:"body"`
	}, error) {
		c, err := e.Repo.GetClient(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Client `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-client",
		Method:      http.MethodPatch,
		Path:        "/clients/{client_id}",
		Summary:     "Update client",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID int64               `path:"client_id"`
		Body     UpdateClientRequest `json:"body"`
	}) (*struct {
		Body domain.Client `json:"body"`
	}, error) {
		c, err := e.UpdateClient(ctx, engine.ClientUpdateOptions{
			ID:           input.ClientID,
			Name:         input.Body.Name,
			Email:        input.Body.Email,
			Phone:        input.Body.Phone,
			Address:      input.Body.Address,
			CompanyID:    input.Body.CompanyID,
			ClearCompany: input.Body.ClearCompany,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Client `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-client",
		Method:        http.MethodDelete,
		Path:          "/clients/{client_id}",
		Summary:       "Delete client",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID int64 `path:"client_id"`
	}) (*struct{}, error) {
		if err := e.DeleteClient(ctx, input.ClientID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client-overview",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/overview",
		Summary:     "Client overview with metrics and risk insights",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID int64 `path:"client_id"`
	}) (*struct {
		Body engine.ClientOverview `json:"body"`
	}, error) {
		ov, err := e.GetClientOverview(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ClientOverview `json:"body"`
		}{Body: ov}, nil
	})
}

func registerClientResources(api huma.API, e engine.Engine) {
	type clientPath struct {
		ClientID int64 `path:"client_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-client-notes",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/notes",
		Summary:     "List client notes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *clientPath) (*struct {
		Body []domain.ClientNote `json:"body"`
	}, error) {
		if err := e.Repo.EnsureClient(ctx, input.ClientID); err != nil {
			return nil, handleError(err)
		}
		notes, err := e.Repo.ListClientNotes(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ClientNote `json:"body"`
		}{Body: notes}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-client-note",
		Method:        http.MethodPost,
		Path:          "/clients/{client_id}/notes",
		Summary:       "Add client note",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID int64       `path:"client_id"`
		Body     NoteRequest `json:"body"`
	}) (*struct {
		Body domain.ClientNote `json:"body"`
	}, error) {
		n, err := e.AddClientNote(ctx, domain.ClientNote{
			ClientID: input.ClientID,
			Author:   input.Body.Author,
			Body:     input.Body.Body,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ClientNote `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-client-assets",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/assets",
		Summary:     "List client assets",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *clientPath) (*struct {
		Body []domain.Asset `json:"body"`
	}, error) {
		if err := e.Repo.EnsureClient(ctx, input.ClientID); err != nil {
			return nil, handleError(err)
		}
		assets, err := e.Repo.ListAssets(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Asset `json:"body"`
		}{Body: assets}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-client-asset",
		Method:        http.MethodPost,
		Path:          "/clients/{client_id}/assets",
		Summary:       "Add client asset",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID int64              `path:"client_id"`
		Body     CreateAssetRequest `json:"body"`
	}) (*struct {
		Body domain.Asset `json:"body"`
	}, error) {
		a, err := e.CreateAsset(ctx, domain.Asset{
			ClientID:     input.ClientID,
			Name:         input.Body.Name,
			SerialNumber: input.Body.SerialNumber,
			AssetType:    input.Body.AssetType,
			Status:       input.Body.Status,
			Location:     input.Body.Location,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Asset `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-client-contracts",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/contracts",
		Summary:     "List client contracts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *clientPath) (*struct {
		Body []ContractResponse `json:"body"`
	}, error) {
		if err := e.Repo.EnsureClient(ctx, input.ClientID); err != nil {
			return nil, handleError(err)
		}
		contracts, err := e.Repo.ListContracts(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		today := time.Now().UTC()
		res := make([]ContractResponse, 0, len(contracts))
		for _, c := range contracts {
			res = append(res, ContractResponse{ServiceContract: c, IsActive: c.Active(today)})
		}
		return &struct {
			Body []ContractResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-client-contract",
		Method:        http.MethodPost,
		Path:          "/clients/{client_id}/contracts",
		Summary:       "Add service contract",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID int64                 `path:"client_id"`
		Body     CreateContractRequest `json:"body"`
	}) (*struct {
		Body ContractResponse `json:"body"`
	}, error) {
		c, err := e.CreateContract(ctx, domain.ServiceContract{
			ClientID:     input.ClientID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			StartDate:    input.Body.StartDate,
			EndDate:      input.Body.EndDate,
			SupportLevel: input.Body.SupportLevel,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractResponse `json:"body"`
		}{Body: ContractResponse{ServiceContract: c, IsActive: c.Active(time.Now().UTC())}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-client-tickets",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/tickets",
		Summary:     "List client tickets",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *clientPath) (*struct {
		Body []domain.Ticket `json:"body"`
	}, error) {
		if err := e.Repo.EnsureClient(ctx, input.ClientID); err != nil {
			return nil, handleError(err)
		}
		tickets, err := e.Repo.ListTickets(ctx, repo.TicketFilters{ClientID: input.ClientID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Ticket `json:"body"`
		}{Body: tickets}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-client-appointments",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/appointments",
		Summary:     "List client appointments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *clientPath) (*struct {
		Body []domain.Appointment `json:"body"`
	}, error) {
		if err := e.Repo.EnsureClient(ctx, input.ClientID); err != nil {
			return nil, handleError(err)
		}
		appts, err := e.Repo.ListAppointments(ctx, repo.AppointmentFilters{ClientID: input.ClientID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Appointment `json:"body"`
		}{Body: appts}, nil
	})
}

func registerTickets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-ticket",
		Method:        http.MethodPost,
		Path:          "/tickets",
		Summary:       "Create ticket",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		t, err := e.CreateTicket(ctx, domain.Ticket{
			ClientID:    input.Body.ClientID,
			Subject:     input.Body.Subject,
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
			Status:      input.Body.Status,
			AssignedTo:  input.Body.AssignedTo,
			DueDate:     input.Body.DueDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tickets",
		Method:      http.MethodGet,
		Path:        "/tickets",
		Summary:     "List tickets",
	}, func(ctx context.Context, input *struct {
		ClientID   int64  `query:"client_id"`
		Status     string `query:"status"`
		Priority   string `query:"priority"`
		AssignedTo string `query:"assigned_to"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.Ticket `json:"body"`
	}, error) {
		tickets, err := e.Repo.ListTickets(ctx, repo.TicketFilters{
			ClientID:   input.ClientID,
			Status:     strings.ToLower(input.Status),
			Priority:   strings.ToLower(input.Priority),
			AssignedTo: input.AssignedTo,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Ticket `json:"body"`
		}{Body: tickets}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ticket",
		Method:      http.MethodGet,
		Path:        "/tickets/{ticket_id}",
		Summary:     "Get ticket",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID int64 `path:"ticket_id"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		t, err := e.Repo.GetTicket(ctx, input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-ticket",
		Method:      http.MethodPatch,
		Path:        "/tickets/{ticket_id}",
		Summary:     "Update ticket",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID int64               `path:"ticket_id"`
		Body     UpdateTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		t, err := e.UpdateTicket(ctx, engine.TicketUpdateOptions{
			ID:           input.TicketID,
			Subject:      input.Body.Subject,
			Description:  input.Body.Description,
			Priority:     input.Body.Priority,
			Status:       input.Body.Status,
			AssignedTo:   input.Body.AssignedTo,
			DueDate:      input.Body.DueDate,
			ClearDueDate: input.Body.ClearDueDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ticket-notes",
		Method:      http.MethodGet,
		Path:        "/tickets/{ticket_id}/notes",
		Summary:     "List ticket notes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID int64 `path:"ticket_id"`
	}) (*struct {
		Body []domain.TicketNote `json:"body"`
	}, error) {
		if _, err := e.Repo.GetTicket(ctx, input.TicketID); err != nil {
			return nil, handleError(err)
		}
		notes, err := e.Repo.ListTicketNotes(ctx, input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TicketNote `json:"body"`
		}{Body: notes}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-ticket-note",
		Method:        http.MethodPost,
		Path:          "/tickets/{ticket_id}/notes",
		Summary:       "Add ticket note",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID int64       `path:"ticket_id"`
		Body     NoteRequest `json:"body"`
	}) (*struct {
		Body domain.TicketNote `json:"body"`
	}, error) {
		n, err := e.AddTicketNote(ctx, domain.TicketNote{
			TicketID: input.TicketID,
			Author:   input.Body.Author,
			Body:     input.Body.Body,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TicketNote `json:"body"`
		}{Body: n}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.CreateTask(ctx, domain.Task{
			ClientID:    input.Body.ClientID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			Priority:    input.Body.Priority,
			DueDate:     input.Body.DueDate,
			AssignedTo:  input.Body.AssignedTo,
			CreatedBy:   input.Body.CreatedBy,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		ClientID   int64  `query:"client_id"`
		Status     string `query:"status"`
		AssignedTo string `query:"assigned_to"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			ClientID:   input.ClientID,
			Status:     strings.ToLower(input.Status),
			AssignedTo: input.AssignedTo,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID int64             `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
			ID:           input.TaskID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			Status:       input.Body.Status,
			Priority:     input.Body.Priority,
			AssignedTo:   input.Body.AssignedTo,
			DueDate:      input.Body.DueDate,
			ClearDueDate: input.Body.ClearDueDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Complete task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID int64 `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.CompleteTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID int64 `path:"task_id"`
	}) (*struct{}, error) {
		if err := e.DeleteTask(ctx, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAppointments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-appointment",
		Method:        http.MethodPost,
		Path:          "/appointments",
		Summary:       "Create appointment",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateAppointmentRequest `json:"body"`
	}) (*struct {
		Body domain.Appointment `json:"body"`
	}, error) {
		a, err := e.CreateAppointment(ctx, domain.Appointment{
			ClientID:        input.Body.ClientID,
			Title:           input.Body.Title,
			Description:     input.Body.Description,
			StartTime:       input.Body.StartTime.UTC(),
			DurationMinutes: input.Body.DurationMinutes,
			Status:          input.Body.Status,
			AssignedTo:      input.Body.AssignedTo,
			Location:        input.Body.Location,
			Notes:           input.Body.Notes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Appointment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-appointments",
		Method:      http.MethodGet,
		Path:        "/appointments",
		Summary:     "List appointments",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ClientID   int64  `query:"client_id"`
		Status     string `query:"status"`
		AssignedTo string `query:"assigned_to"`
		Date       string `query:"date" example:"2024-05-20"`
		From       string `query:"from" example:"2024-05-20T00:00:00Z"`
		To         string `query:"to" example:"2024-05-27T00:00:00Z"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.Appointment `json:"body"`
	}, error) {
		filters := repo.AppointmentFilters{
			ClientID:   input.ClientID,
			Status:     strings.ToLower(input.Status),
			AssignedTo: input.AssignedTo,
			Limit:      input.Limit,
		}
		if input.Date != "" {
			day, err := parseDate(input.Date)
			if err != nil {
				return nil, handleError(err)
			}
			filters.From = day
			filters.Until = day.AddDate(0, 0, 1).Add(-time.Second)
		}
		if input.From != "" {
			from, err := parseDate(input.From)
			if err != nil {
				return nil, handleError(err)
			}
			filters.From = from
		}
		if input.To != "" {
			to, err := parseDate(input.To)
			if err != nil {
				return nil, handleError(err)
			}
			filters.Until = to
		}
		appts, err := e.Repo.ListAppointments(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Appointment `json:"body"`
		}{Body: appts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-appointment",
		Method:      http.MethodPatch,
		Path:        "/appointments/{appointment_id}",
		Summary:     "Update appointment",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppointmentID int64                    `path:"appointment_id"`
		Body          UpdateAppointmentRequest `json:"body"`
	}) (*struct {
		Body domain.Appointment `json:"body"`
	}, error) {
		a, err := e.UpdateAppointment(ctx, engine.AppointmentUpdateOptions{
			ID:              input.AppointmentID,
			Title:           input.Body.Title,
			Description:     input.Body.Description,
			StartTime:       input.Body.StartTime,
			DurationMinutes: input.Body.DurationMinutes,
			Status:          input.Body.Status,
			AssignedTo:      input.Body.AssignedTo,
			Location:        input.Body.Location,
			Notes:           input.Body.Notes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Appointment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-appointment",
		Method:        http.MethodDelete,
		Path:          "/appointments/{appointment_id}",
		Summary:       "Delete appointment",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppointmentID int64 `path:"appointment_id"`
	}) (*struct{}, error) {
		if err := e.DeleteAppointment(ctx, input.AppointmentID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerIntegrations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ingest-zabbix-event",
		Method:      http.MethodPost,
		Path:        "/integrations/zabbix/events",
		Summary:     "Ingest monitoring event",
		Description: "The first event for a (source, external_id) pair opens an incident and a ticket. Repeats update the incident in place.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body IngestEventRequest `json:"body"`
	}) (*struct {
		Status int
		Body   IncidentResponse `json:"body"`
	}, error) {
		res, err := e.IngestIncident(ctx, engine.IngestOptions{
			EventID:    input.Body.EventID,
			ClientID:   input.Body.ClientID,
			Severity:   input.Body.Severity,
			Message:    input.Body.Message,
			Problem:    input.Body.Problem,
			Status:     input.Body.Status,
			AssignedTo: input.Body.AssignedTo,
			OccurredAt: input.Body.OccurredAt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		status := http.StatusOK
		if res.Created {
			status = http.StatusCreated
		}
		return &struct {
			Status int
			Body   IncidentResponse `json:"body"`
		}{Status: status, Body: IncidentResponse{Incident: res.Incident, Ticket: res.Ticket}}, nil
	})
}

func registerIncidents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-incidents",
		Method:      http.MethodGet,
		Path:        "/monitoring/incidents",
		Summary:     "List monitoring incidents",
	}, func(ctx context.Context, input *struct {
		ClientID int64  `query:"client_id"`
		Status   string `query:"status"`
		Severity string `query:"severity"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body []IncidentResponse `json:"body"`
	}, error) {
		incidents, err := e.Repo.ListIncidents(ctx, repo.IncidentFilters{
			ClientID: input.ClientID,
			Status:   strings.ToLower(input.Status),
			Severity: strings.ToLower(input.Severity),
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]IncidentResponse, 0, len(incidents))
		for _, inc := range incidents {
			item := IncidentResponse{Incident: inc}
			if inc.TicketID != nil {
				if t, err := e.Repo.GetTicket(ctx, *inc.TicketID); err == nil {
					item.Ticket = &t
				}
			}
			res = append(res, item)
		}
		return &struct {
			Body []IncidentResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-incident",
		Method:      http.MethodGet,
		Path:        "/monitoring/incidents/{incident_id}",
		Summary:     "Get monitoring incident",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IncidentID int64 `path:"incident_id"`
	}) (*struct {
		Body IncidentResponse `json:"body"`
	}, error) {
		res, err := e.GetIncident(ctx, input.IncidentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncidentResponse `json:"body"`
		}{Body: IncidentResponse{Incident: res.Incident, Ticket: res.Ticket}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-incident",
		Method:      http.MethodPatch,
		Path:        "/monitoring/incidents/{incident_id}",
		Summary:     "Update monitoring incident",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IncidentID int64                 `path:"incident_id"`
		Body       UpdateIncidentRequest `json:"body"`
	}) (*struct {
		Body IncidentResponse `json:"body"`
	}, error) {
		res, err := e.UpdateIncident(ctx, engine.IncidentUpdateOptions{
			ID:          input.IncidentID,
			Status:      input.Body.Status,
			Severity:    input.Body.Severity,
			Message:     input.Body.Message,
			TicketID:    input.Body.TicketID,
			ClearTicket: input.Body.ClearTicket,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncidentResponse `json:"body"`
		}{Body: IncidentResponse{Incident: res.Incident, Ticket: res.Ticket}}, nil
	})
}

func registerSchedule(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "optimize-schedule",
		Method:      http.MethodPost,
		Path:        "/schedule/optimize",
		Summary:     "Build a dispatch plan for one day",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body OptimizeScheduleRequest `json:"body"`
	}) (*struct {
		Body schedule.Plan `json:"body"`
	}, error) {
		if input.Body.Date == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "a target date is required", nil)
		}
		day, err := parseDate(input.Body.Date)
		if err != nil {
			return nil, handleError(err)
		}
		plan, err := e.OptimizeSchedule(ctx, engine.OptimizeOptions{
			Date:                day,
			TravelBufferMinutes: input.Body.TravelBufferMinutes,
			WorkdayMinutes:      input.Body.WorkdayMinutes,
			Engineers:           input.Body.Engineers,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body schedule.Plan `json:"body"`
		}{Body: plan}, nil
	})
}

func registerAnalytics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "analytics-forecasts",
		Method:      http.MethodGet,
		Path:        "/analytics/forecasts",
		Summary:     "Churn and engineer load forecasts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.ForecastReport `json:"body"`
	}, error) {
		report, err := e.Forecasts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ForecastReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		evts, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: evts}, nil
	})
}

// parseDate accepts a calendar date or a full timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}
