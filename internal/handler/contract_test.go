package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/go-chi/chi/v5"

	"github.com/galaxy4276/HANBAT-BOX/internal/model"
	"github.com/galaxy4276/HANBAT-BOX/internal/testutil"
)

const contractBaseURL = "http://localhost:8080"

// loadSpec loads and validates docs/api/openapi.yaml.
func loadSpec(t *testing.T) routers.Router {
	t.Helper()

	root, err := testutil.ProjectRoot()
	if err != nil {
		t.Fatal(err)
	}

	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromFile(filepath.Join(root, "docs", "api", "openapi.yaml"))
	if err != nil {
		t.Fatalf("load OpenAPI spec: %v", err)
	}
	if err := spec.Validate(context.Background()); err != nil {
		t.Fatalf("OpenAPI spec validation failed: %v", err)
	}

	router, err := gorillamux.NewRouter(spec)
	if err != nil {
		t.Fatalf("create router from spec: %v", err)
	}
	return router
}

func newContractRouter(svc BoxService) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	Mount(r, NewBoxHandler(svc, nil, 1<<20, logger).Routes(), nil)

	health := NewHealthHandler(&mockHealthChecker{}, &mockHealthChecker{}, nil)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	return r
}

// checkContract serves req and validates the response against the document.
func checkContract(t *testing.T, specRouter routers.Router, app http.Handler, req *http.Request, wantStatus int, skipBody bool) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	if rec.Code != wantStatus {
		t.Fatalf("%s %s: status = %d, want %d (body %s)", req.Method, req.URL.Path, rec.Code, wantStatus, rec.Body.String())
	}

	route, pathParams, err := specRouter.FindRoute(req)
	if err != nil {
		t.Fatalf("%s %s is not documented: %v", req.Method, req.URL.Path, err)
	}

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status: rec.Code,
		Header: rec.Header(),
		Options: &openapi3filter.Options{
			IncludeResponseStatus: true,
			ExcludeResponseBody:   skipBody,
		},
	}
	input.SetBodyBytes(rec.Body.Bytes())

	if err := openapi3filter.ValidateResponse(context.Background(), input); err != nil {
		t.Errorf("%s %s: response violates contract: %v", req.Method, req.URL.Path, err)
	}
	return rec
}

func TestContract_Endpoints(t *testing.T) {
	specRouter := loadSpec(t)

	svc := newFakeBoxService()
	app := newContractRouter(svc)

	body, contentType := buildMultipart(t,
		formPart{field: "data", body: `{"name":"Box A","type":"notes","uploader":"kim"}`},
		formPart{field: "files", fileName: "a.txt", contentType: "text/plain", body: "hello"},
	)
	req := httptest.NewRequest(http.MethodPost, contractBaseURL+"/boxes/uploads", body)
	req.Header.Set("Content-Type", contentType)
	checkContract(t, specRouter, app, req, http.StatusOK, false)

	box, err := svc.GetBox(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	itemID := box.Items[0].ID

	// Fill a second page so X-Next-Cursor appears.
	for i := 0; i < 2; i++ {
		if _, err := svc.SaveBoxWithItems(context.Background(), model.BoxCreateRequest{Name: fmt.Sprintf("extra %d", i)}, nil); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name     string
		method   string
		path     string
		body     io.Reader
		status   int
		skipBody bool
	}{
		{"list", http.MethodGet, "/boxes", nil, http.StatusOK, false},
		{"list filtered empty", http.MethodGet, "/boxes?keyword=lunch&type=wood", nil, http.StatusOK, false},
		{"list next page", http.MethodGet, "/boxes?cursor=2", nil, http.StatusOK, false},
		{"list bad cursor", http.MethodGet, "/boxes?cursor=abc", nil, http.StatusBadRequest, false},
		{"detail", http.MethodGet, "/boxes/1", nil, http.StatusOK, false},
		{"detail missing", http.MethodGet, "/boxes/999", nil, http.StatusNotFound, false},
		{"download", http.MethodGet, fmt.Sprintf("/boxes/1/items/%d/download", itemID), nil, http.StatusOK, true},
		{"download missing", http.MethodGet, "/boxes/1/items/999/download", nil, http.StatusNotFound, false},
		{"upload without metadata", http.MethodPost, "/boxes/uploads", strings.NewReader("x"), http.StatusBadRequest, false},
		{"healthz", http.MethodGet, "/healthz", nil, http.StatusOK, false},
		{"readyz", http.MethodGet, "/readyz", nil, http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, contractBaseURL+tt.path, tt.body)
			if tt.method == http.MethodPost {
				req.Header.Set("Content-Type", "text/plain")
			}
			checkContract(t, specRouter, app, req, tt.status, tt.skipBody)
		})
	}
}
