package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"spot-api/internal/discovery"
	"spot-api/internal/localdb"
	"spot-api/internal/moderation"
	"spot-api/internal/spot"
	"spot-api/internal/store"
)

type harness struct {
	st  *store.Memory
	mux *http.ServeMux
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemory()
	cache := localdb.NewTTLCache[[]spot.Spot](localdb.NewMemKV(), spot.CacheTTL)
	disc := discovery.New(st, cache, discovery.Options{})
	mod := moderation.New(st, moderation.Options{
		OnRemoved: func(ctx context.Context, id string) { disc.Forget(ctx, id) },
	})
	return &harness{st: st, mux: BuildRoutes(Deps{Discovery: disc, Moderation: mod, AdminToken: "secret"})}
}

func (h *harness) do(t *testing.T, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func (h *harness) create(t *testing.T, lat, lng float64) spot.Spot {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/spots", map[string]any{"latitude": lat, "longitude": lng, "description": "rice balls"}, map[string]string{"x-user-id": "u1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	var sp spot.Spot
	if err := json.NewDecoder(rec.Body).Decode(&sp); err != nil {
		t.Fatal(err)
	}
	return sp
}

func nearby(t *testing.T, h *harness, query string) nearbyResult {
	t.Helper()
	rec := h.do(t, http.MethodGet, "/spots/nearby?"+query, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("nearby: status %d body %s", rec.Code, rec.Body.String())
	}
	var res nearbyResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	return res
}

func TestCreateAndDiscover(t *testing.T) {
	h := newHarness(t)
	sp := h.create(t, 35.6895, 139.6917)
	if sp.CreatedBy != "u1" || sp.ID == "" {
		t.Fatalf("unexpected spot %+v", sp)
	}
	res := nearby(t, h, "lat=35.6900&lng=139.6920")
	if len(res.Spots) != 1 || res.Spots[0].ID != sp.ID {
		t.Fatalf("want created spot, got %+v", res.Spots)
	}
	if res.RadiusM != spot.DefaultRadiusM || res.Approx {
		t.Fatalf("unexpected envelope %+v", res)
	}
	res = nearby(t, h, "lat=35.6900&lng=139.6920&status=sold_out")
	if len(res.Spots) != 0 {
		t.Fatalf("status filter: want none, got %d", len(res.Spots))
	}

	rec := h.do(t, http.MethodGet, "/spots/"+sp.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/spots/missing", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: want 404, got %d", rec.Code)
	}
}

func TestNearbyValidation(t *testing.T) {
	h := newHarness(t)
	if rec := h.do(t, http.MethodGet, "/spots/nearby", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("no center and no locator: want 400, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/spots/nearby?lat=91&lng=0", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad latitude: want 400, got %d", rec.Code)
	}
	rec := h.do(t, http.MethodPost, "/spots", map[string]any{"latitude": 10, "longitude": 10, "images": make([]spot.Image, 4)}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("too many images: want 400, got %d", rec.Code)
	}
}

func TestNearbyQueryFailure(t *testing.T) {
	h := newHarness(t)
	h.st.FailRange = func(string) error { return errors.New("unavailable") }
	rec := h.do(t, http.MethodGet, "/spots/nearby?lat=1&lng=1&refresh=true", nil, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("want 502, got %d", rec.Code)
	}
	var body errorBody
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Error != "could not load nearby results" {
		t.Fatalf("unexpected error message %q", body.Error)
	}
}

func TestAbuseRemovesFromNearby(t *testing.T) {
	h := newHarness(t)
	sp := h.create(t, 48.8566, 2.3522)
	if got := nearby(t, h, "lat=48.8566&lng=2.3522"); len(got.Spots) != 1 {
		t.Fatalf("want 1 before reports, got %d", len(got.Spots))
	}
	var last moderation.Result
	for i := 0; i < spot.AbuseThreshold; i++ {
		rec := h.do(t, http.MethodPost, "/spots/"+sp.ID+"/abuse", map[string]string{"reason": "fraud"}, map[string]string{"x-user-id": "r"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("abuse %d: status %d body %s", i, rec.Code, rec.Body.String())
		}
		_ = json.NewDecoder(rec.Body).Decode(&last)
	}
	if !last.Removed {
		t.Fatal("want removed after threshold")
	}
	if got := nearby(t, h, "lat=48.8566&lng=2.3522"); len(got.Spots) != 0 {
		t.Fatalf("removed spot still served (cache not evicted?): %d", len(got.Spots))
	}
	rec := h.do(t, http.MethodPost, "/spots/"+sp.ID+"/abuse", map[string]string{"reason": "fraud"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("report on removed spot: want 404, got %d", rec.Code)
	}
	rec = h.do(t, http.MethodPost, "/spots/x/abuse", map[string]string{"reason": "spam"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown spot: want 404, got %d", rec.Code)
	}
}

func TestReportsAndComments(t *testing.T) {
	h := newHarness(t)
	sp := h.create(t, 1.3521, 103.8198)
	rec := h.do(t, http.MethodPost, "/spots/"+sp.ID+"/reports", map[string]any{"status": "low_stock"}, map[string]string{"x-user-id": "u2"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("report: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = h.do(t, http.MethodPost, "/spots/"+sp.ID+"/reports", map[string]any{"status": "closed"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status: want 400, got %d", rec.Code)
	}
	rec = h.do(t, http.MethodGet, "/spots/"+sp.ID+"/reports", nil, nil)
	var reports []spot.Report
	_ = json.NewDecoder(rec.Body).Decode(&reports)
	if len(reports) != 1 || reports[0].ReportedBy != "u2" {
		t.Fatalf("unexpected reports %+v", reports)
	}

	rec = h.do(t, http.MethodPost, "/spots/"+sp.ID+"/comments", map[string]string{"text": "great"}, map[string]string{"x-user-id": "u3", "x-user-name": "Mei"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("comment: status %d", rec.Code)
	}
	var c spot.Comment
	_ = json.NewDecoder(rec.Body).Decode(&c)
	if c.UserName != "Mei" || c.ID == "" {
		t.Fatalf("unexpected comment %+v", c)
	}
	rec = h.do(t, http.MethodPut, "/spots/"+sp.ID+"/comments/"+c.ID, map[string]string{"text": "still great"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = h.do(t, http.MethodPut, "/spots/"+sp.ID+"/comments/unknown", map[string]string{"text": "x"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown comment: want 404, got %d", rec.Code)
	}
	rec = h.do(t, http.MethodDelete, "/spots/"+sp.ID+"/comments/"+c.ID, nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
}

func TestCacheSweepRequiresToken(t *testing.T) {
	h := newHarness(t)
	if rec := h.do(t, http.MethodPost, "/cache/sweep", nil, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("want 403, got %d", rec.Code)
	}
	for _, bad := range []string{"secreT", "secret ", "secre", "x"} {
		if rec := h.do(t, http.MethodPost, "/cache/sweep", nil, map[string]string{"x-admin-token": bad}); rec.Code != http.StatusForbidden {
			t.Fatalf("token %q: want 403, got %d", bad, rec.Code)
		}
	}
	rec := h.do(t, http.MethodPost, "/cache/sweep", nil, map[string]string{"x-admin-token": "secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if got := getClientIP(r); got != "10.0.0.1" {
		t.Fatalf("remote addr: got %s", got)
	}
	r.Header.Set("forwarded", `for="[2001:db8::1]:4711";proto=https`)
	if got := getClientIP(r); got != "2001:db8::1" {
		t.Fatalf("forwarded header: got %s", got)
	}
	r.Header.Set("x-forwarded-for", "203.0.113.9, 10.0.0.1")
	if got := getClientIP(r); got != "203.0.113.9" {
		t.Fatalf("x-forwarded-for: got %s", got)
	}
	r.Header.Set("x-forwarded-for", "unknown")
	if got := getClientIP(r); got != "2001:db8::1" {
		t.Fatalf("unparseable hop should be skipped, got %s", got)
	}
}
