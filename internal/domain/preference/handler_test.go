package preference

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

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func asProvider(req *http.Request, providerID string) *http.Request {
	ctx := context.WithValue(req.Context(), auth.ProviderIDKey, providerID)
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{auth.RoleProvider})
	return req.WithContext(ctx)
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func expectHTTPStatus(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != code {
		t.Fatalf("expected %d, got %v", code, err)
	}
}

func TestHandler_CreateAndList(t *testing.T) {
	h, e := newTestHandler()

	rec := httptest.NewRecorder()
	body := `{"category":"style","key":"useBulletPoints","value":{"enabled":true}}`
	c := e.NewContext(asProvider(jsonRequest(http.MethodPost, body), "dr-1"), rec)
	c.SetParamNames("id")
	c.SetParamValues("dr-1")
	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created Preference
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.Source != SourceExplicit || created.Key != KeyBulletPoints {
		t.Errorf("unexpected preference %+v", created)
	}

	rec = httptest.NewRecorder()
	req := asProvider(httptest.NewRequest(http.MethodGet, "/?category=style&active=true", nil), "dr-1")
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("dr-1")
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var items []Preference
	json.Unmarshal(rec.Body.Bytes(), &items)
	if len(items) != 1 || items[0].ID != created.ID {
		t.Errorf("unexpected list %+v", items)
	}
}

func TestHandler_ListEmptyIsArray(t *testing.T) {
	h, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(asProvider(httptest.NewRequest(http.MethodGet, "/", nil), "dr-1"), rec)
	c.SetParamNames("id")
	c.SetParamValues("dr-1")
	if err := h.List(c); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestHandler_OtherProviderForbidden(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(asProvider(httptest.NewRequest(http.MethodGet, "/", nil), "dr-1"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("dr-2")
	expectHTTPStatus(t, h.List(c), http.StatusForbidden)
}

func TestHandler_CreateInvalid(t *testing.T) {
	h, e := newTestHandler()
	body := `{"category":"depth","key":"noteDepth","value":{"level":"brief","averageWords":500}}`
	c := e.NewContext(asProvider(jsonRequest(http.MethodPost, body), "dr-1"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("dr-1")
	expectHTTPStatus(t, h.Create(c), http.StatusBadRequest)
}

func TestHandler_Feedback(t *testing.T) {
	h, e := newTestHandler()
	p, err := h.svc.Upsert(context.Background(), "dr-1", bullets, SourceEdit)
	if err != nil {
		t.Fatal(err)
	}

	c := e.NewContext(asProvider(jsonRequest(http.MethodPost, `{}`), "dr-1"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	expectHTTPStatus(t, h.Feedback(c), http.StatusBadRequest)

	rec := httptest.NewRecorder()
	c = e.NewContext(asProvider(jsonRequest(http.MethodPost, `{"accepted":false}`), "dr-1"), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.Feedback(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Preference
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.TimesRejected != 1 || got.Confidence >= InitialConfidence {
		t.Errorf("expected rejection recorded, got %+v", got)
	}
}

func TestHandler_GetForbiddenAndNotFound(t *testing.T) {
	h, e := newTestHandler()
	p, _ := h.svc.Upsert(context.Background(), "dr-1", bullets, SourceEdit)

	c := e.NewContext(asProvider(httptest.NewRequest(http.MethodGet, "/", nil), "dr-2"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	expectHTTPStatus(t, h.Get(c), http.StatusForbidden)

	c = e.NewContext(asProvider(httptest.NewRequest(http.MethodGet, "/", nil), "dr-1"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	expectHTTPStatus(t, h.Get(c), http.StatusNotFound)

	c = e.NewContext(asProvider(httptest.NewRequest(http.MethodGet, "/", nil), "dr-1"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")
	expectHTTPStatus(t, h.Get(c), http.StatusBadRequest)
}

func TestHandler_DeactivateAndDelete(t *testing.T) {
	h, e := newTestHandler()
	p, _ := h.svc.Upsert(context.Background(), "dr-1", bullets, SourceEdit)

	rec := httptest.NewRecorder()
	c := e.NewContext(asProvider(httptest.NewRequest(http.MethodPost, "/", nil), "dr-1"), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.Deactivate(c); err != nil {
		t.Fatal(err)
	}
	var got Preference
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Active {
		t.Error("expected inactive preference")
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(asProvider(httptest.NewRequest(http.MethodDelete, "/", nil), "dr-1"), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.Delete(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}
