package coding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chiro/chiro/internal/platform/auth"
)

func request(method, body string, ctxValues map[interface{}]interface{}) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/api/v1/x", nil)
	} else {
		req = httptest.NewRequest(method, "/api/v1/x", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	ctx := req.Context()
	for k, v := range ctxValues {
		ctx = context.WithValue(ctx, k, v)
	}
	return req.WithContext(ctx)
}

func asProvider(method, body string) *http.Request {
	return request(method, body, map[interface{}]interface{}{auth.ProviderIDKey: "dr-1", auth.UserIDKey: "user-1"})
}

func withID(c echo.Context, id string) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c
}

func expectStatus(t *testing.T, err error, want int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != want {
		t.Errorf("expected status %d, got %d", want, he.Code)
	}
}

func TestHandler_SuggestListAccept(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	enc := uuid.New()

	rec := httptest.NewRecorder()
	c := withID(e.NewContext(asProvider(http.MethodPost, `{"soap_text":"`+noteText+`","include_modifiers":true}`), rec), enc.String())
	if err := h.Suggest(c); err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var items []Suggestion
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 || items[0].ProviderID != "dr-1" {
		t.Fatalf("unexpected suggestions %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	c = withID(e.NewContext(asProvider(http.MethodPost, ""), rec), items[1].ID.String())
	if err := h.Accept(c); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ACCEPTED"`) || !strings.Contains(rec.Body.String(), `"decided_by":"user-1"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req := asProvider(http.MethodGet, "")
	req.URL.RawQuery = "status=PENDING&limit=1"
	c = withID(e.NewContext(req, rec), enc.String())
	if err := h.ListByEncounter(c); err != nil {
		t.Fatal(err)
	}
	var page struct {
		Data    []Suggestion `json:"data"`
		Total   int          `json:"total"`
		HasMore bool         `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 2 || len(page.Data) != 1 || !page.HasMore {
		t.Errorf("unexpected page %s", rec.Body.String())
	}
}

func TestHandler_Errors(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	c := withID(e.NewContext(asProvider(http.MethodPost, `{"code":"98941"}`), httptest.NewRecorder()), "bad")
	expectStatus(t, h.Modify(c), http.StatusBadRequest)

	c = withID(e.NewContext(asProvider(http.MethodPost, `{"code":"98941"}`), httptest.NewRecorder()), uuid.NewString())
	expectStatus(t, h.Modify(c), http.StatusNotFound)

	c = withID(e.NewContext(asProvider(http.MethodPost, `{"code_type":"BOGUS"}`), httptest.NewRecorder()), uuid.NewString())
	expectStatus(t, h.AcceptAll(c), http.StatusBadRequest)

	c = withID(e.NewContext(asProvider(http.MethodGet, ""), httptest.NewRecorder()), "dr-2")
	expectStatus(t, h.AcceptanceStats(c), http.StatusForbidden)
}

func TestHandler_AcceptanceStats(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	items := f.suggest(t, uuid.New())
	f.svc.Accept(context.Background(), items[1].ID, "u")

	rec := httptest.NewRecorder()
	biller := request(http.MethodGet, "", map[interface{}]interface{}{auth.UserRolesKey: []string{auth.RoleBiller}})
	c := withID(e.NewContext(biller, rec), "dr-1")
	if err := h.AcceptanceStats(c); err != nil {
		t.Fatal(err)
	}
	var stats map[string]Acceptance
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats["98940"].Accepted != 1 {
		t.Errorf("unexpected stats %s", rec.Body.String())
	}
}
