package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/tab_titler/internal/cdpcontrol"
	"github.com/dgnsrekt/tab_titler/internal/controller"
	"github.com/dgnsrekt/tab_titler/internal/messaging"
	"github.com/dgnsrekt/tab_titler/internal/relay"
	"github.com/dgnsrekt/tab_titler/internal/resolver"
	"github.com/dgnsrekt/tab_titler/internal/selectors"
)

type Service interface {
	Status() controller.Status
	TabStatus(tabID string) (resolver.Status, error)
	TriggerPass(tabID string) error
	NotifyBlur(tabID string) error
}

// SelectorStore is the live selector set.
type SelectorStore interface {
	Current() selectors.Set
	Reload() error
}

type tabIDInput struct {
	TabID string `path:"tab_id" doc:"CDP target id of the tab"`
}

type statusOutput struct {
	Body controller.Status
}

type tabStatusOutput struct {
	Body resolver.Status
}

type tabActionOutput struct {
	Body struct {
		TabID  string `json:"tab_id"`
		Status string `json:"status"`
	}
}

type selectorsOutput struct {
	Body selectors.Set
}

func NewServer(svc Service, broker *relay.Broker, sel SelectorStore) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Tab Titler API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", htmlHandler(docsHTML))
	router.Get("/docs/events", htmlHandler(eventsDocsHTML))
	router.Get("/events", relay.SSEHandler(broker))

	registerStatusHandlers(api, svc)
	registerTabHandlers(api, svc)
	registerSelectorHandlers(api, sel)

	return router
}

func htmlHandler(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(page)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	}
}

func registerStatusHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-status", Method: http.MethodGet, Path: "/status", Summary: "Tracked tab and monitored tabs", Tags: []string{"Status"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			return &statusOutput{Body: svc.Status()}, nil
		})
}

func registerTabHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "get-tab", Method: http.MethodGet, Path: "/tabs/{tab_id}", Summary: "Title resolver status of a monitored tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*tabStatusOutput, error) {
			st, err := svc.TabStatus(input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &tabStatusOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "resolve-tab", Method: http.MethodPost, Path: "/tabs/{tab_id}/resolve", Summary: "Run one title resolution pass", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*tabActionOutput, error) {
			if err := svc.TriggerPass(input.TabID); err != nil {
				return nil, mapErr(err)
			}
			out := &tabActionOutput{}
			out.Body.TabID = input.TabID
			out.Body.Status = "queued"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "blur-tab", Method: http.MethodPost, Path: "/tabs/{tab_id}/blur", Summary: "Send the focus-loss message to a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*tabActionOutput, error) {
			if err := svc.NotifyBlur(input.TabID); err != nil {
				return nil, mapErr(err)
			}
			out := &tabActionOutput{}
			out.Body.TabID = input.TabID
			out.Body.Status = "sent"
			return out, nil
		})
}

func registerSelectorHandlers(api huma.API, sel SelectorStore) {
	huma.Register(api, huma.Operation{OperationID: "get-selectors", Method: http.MethodGet, Path: "/selectors", Summary: "Active selector set", Tags: []string{"Selectors"}},
		func(ctx context.Context, input *struct{}) (*selectorsOutput, error) {
			return &selectorsOutput{Body: sel.Current()}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "reload-selectors", Method: http.MethodPost, Path: "/selectors/reload", Summary: "Reload the selector override file", Tags: []string{"Selectors"}},
		func(ctx context.Context, input *struct{}) (*selectorsOutput, error) {
			if err := sel.Reload(); err != nil {
				return nil, huma.Error422UnprocessableEntity(err.Error())
			}
			return &selectorsOutput{Body: sel.Current()}, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, messaging.ErrInboxFull) {
		return huma.Error503ServiceUnavailable(err.Error())
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable, cdpcontrol.CodeEvalFailure:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
