package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"khatma/internal/engine"
	"khatma/internal/logging"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Log      logging.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"ownership_conflict"`
	Message string         `json:"message" example:"this task belongs to someone else"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"task_id\":3}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

var defaultErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

// New returns an HTTP handler exposing the khatma API.
func New(cfg Config) (http.Handler, error) {
	basePath := strings.TrimRight(cfg.BasePath, "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = logging.Discard()
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// schema violations are client errors like any other bad request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	hcfg := huma.DefaultConfig("Khatma API", "1.0.0")
	hcfg.OpenAPIPath = "" // served below with the error schema attached
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, basePath: basePath}
	registerDocs(router, basePath)
	registerHealth(group)
	h.registerAuth(group)
	h.registerTasks(group)
	h.registerGroups(group)
	h.registerUsers(group)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", id)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info(r.Context(), "http request",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start),
			)
		})
	}
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

// handleError maps engine errors onto the envelope. redirect, when set, is
// where an unregistered user should be sent to log in.
func handleError(err error, redirect string) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", ve.Message, map[string]any{"key": string(ve.Key)})
	}
	var mf engine.MissingFieldsError
	if errors.As(err, &mf) {
		return newAPIError(http.StatusBadRequest, "missing_fields", mf.Message, map[string]any{"fields": mf.Fields})
	}
	var oe engine.OwnershipError
	if errors.As(err, &oe) {
		return newAPIError(http.StatusConflict, "ownership_conflict", oe.Message, map[string]any{"task_id": oe.TaskID})
	}
	var ac engine.AlreadyClaimedError
	if errors.As(err, &ac) {
		return newAPIError(http.StatusConflict, "already_claimed", ac.Message, map[string]any{"task_id": ac.TaskID})
	}
	var nf engine.NotFoundError
	if errors.As(err, &nf) {
		if nf.Kind == "user" && redirect != "" {
			return newAPIError(http.StatusNotFound, "not_registered", nf.Error(), map[string]any{"redirect": redirect})
		}
		return newAPIError(http.StatusNotFound, "not_found", nf.Error(), map[string]any{"kind": nf.Kind, "id": nf.ID})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join("/", basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join("/", basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
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
	specURL := path.Join("/", basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Khatma API Docs</title>
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

// loginRedirect is where the web client sends users who are not registered.
func loginRedirect(basePath, group string) string {
	target := path.Join("/", basePath, "login")
	if group == "" {
		return target
	}
	return target + "?group=" + url.QueryEscape(group)
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

type handlers struct {
	engine   engine.Engine
	basePath string
}

func (h handlers) registerAuth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "auth",
		Method:      http.MethodPost,
		Path:        "/auth",
		Summary:     "Register or rename a user and join a group",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		Body AuthRequest `json:"body"`
	}) (*struct {
		Body AuthResponse `json:"body"`
	}, error) {
		res, err := h.engine.Register(ctx, engine.RegisterRequest{
			Group: input.Body.Group,
			ID:    input.Body.ID,
			Name:  input.Body.Name,
		})
		if err != nil {
			return nil, handleError(err, "")
		}
		return &struct {
			Body AuthResponse `json:"body"`
		}{Body: AuthResponse{Success: true, UID: res.ID, Name: res.Name, Created: res.Created}}, nil
	})
}

func (h handlers) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPost,
		Path:        "/update_task",
		Summary:     "Advance a task one step for the requesting user",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body UpdateTaskResponse `json:"body"`
	}, error) {
		res, err := h.engine.Advance(ctx, engine.AdvanceRequest{
			Group:  input.Body.Group,
			UserID: input.Body.UID,
			TaskID: int(input.Body.TaskID),
		})
		if err != nil {
			return nil, handleError(err, loginRedirect(h.basePath, input.Body.Group))
		}
		return &struct {
			Body UpdateTaskResponse `json:"body"`
		}{Body: updateTaskResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/get_status",
		Summary:     "Group board; creates the group when absent",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		Group string `query:"group"`
	}) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		b, err := h.engine.Board(ctx, input.Group)
		if err != nil {
			return nil, handleError(err, "")
		}
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: boardResponse(b)}, nil
	})
}

func (h handlers) registerGroups(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-groups",
		Method:      http.MethodGet,
		Path:        "/groups",
		Summary:     "Group names in creation order",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body GroupsResponse `json:"body"`
	}, error) {
		names, err := h.engine.ListGroups(ctx)
		if err != nil {
			return nil, handleError(err, "")
		}
		return &struct {
			Body GroupsResponse `json:"body"`
		}{Body: GroupsResponse{Groups: names}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mission",
		Method:      http.MethodGet,
		Path:        "/mission",
		Summary:     "Group board as seen by a registered user",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		Group string `query:"group"`
		UID   string `query:"uid"`
	}) (*struct {
		Body MissionResponse `json:"body"`
	}, error) {
		v, err := h.engine.Member(ctx, input.Group, input.UID)
		if err != nil {
			return nil, handleError(err, loginRedirect(h.basePath, input.Group))
		}
		return &struct {
			Body MissionResponse `json:"body"`
		}{Body: missionResponse(v)}, nil
	})
}

func (h handlers) registerUsers(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{uid}",
		Summary:     "User name and completion history",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		UID string `path:"uid"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		u, err := h.engine.User(ctx, input.UID)
		if err != nil {
			return nil, handleError(err, "")
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(input.UID, u)}, nil
	})
}
