package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"fieldattend/internal/attendance"
	"fieldattend/internal/auth"
	"fieldattend/internal/notify"
	"fieldattend/internal/photostore"
	"fieldattend/internal/queue"
)

const (
	testKey    = "test-key"
	testIssuer = "fieldattend-test"
)

type fixture struct {
	router *gin.Engine
	store  *attendance.MemoryStore
	queue  *queue.InMemory
	hub    *notify.Hub
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	photos, err := photostore.NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("disk store: %v", err)
	}
	store := attendance.NewMemoryStore()
	q := queue.NewInMemory(8)
	hub := notify.NewHub()
	svc := attendance.NewService(store, photos, attendance.Options{})
	r := NewRouter(Options{
		Service:       svc,
		Store:         store,
		Queue:         q,
		JWTIssuer:     testIssuer,
		JWTSigningKey: testKey,
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		RateLimit:     100,
		Health:        map[string]Checker{"db": func(context.Context) bool { return true }},
		Hub:           hub,
	})
	return fixture{router: r, store: store, queue: q, hub: hub}
}

func token(t *testing.T, employee, role string) string {
	t.Helper()
	pair, err := auth.Issue(employee, role, testIssuer, testKey, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return pair.AccessToken
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func checkInRequest(t *testing.T, tok string, photo []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if photo != nil {
		part, err := w.CreateFormFile("photo", "test.png")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = part.Write(photo)
	}
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	w.Close()
	req := httptest.NewRequest(http.MethodPost, "/v1/attendance/check-in", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tok)
	return req
}

func validFields() map[string]string {
	return map[string]string{
		"latitude":          "13.0827",
		"longitude":         "80.2707",
		"location":          "Anna Salai, Chennai",
		"time":              "09:15:00",
		"attendance_status": "Present",
	}
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func detailOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var out struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode detail: %v (%s)", err, w.Body.String())
	}
	return out.Detail
}

func TestTodayThenCheckInThenToday(t *testing.T) {
	f := newFixture(t)
	tok := token(t, "emp-7", "salesman")

	req := httptest.NewRequest(http.MethodGet, "/v1/attendance/today", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := serve(f.router, req)
	if w.Code != http.StatusOK || w.Body.String() != "null" {
		t.Fatalf("expected null, got %d %s", w.Code, w.Body.String())
	}

	w = serve(f.router, checkInRequest(t, tok, pngData(t), validFields()))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}
	var rec attendance.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.Location != "Anna Salai, Chennai" || rec.Latitude != 13.0827 || rec.Status != attendance.StatusPresent {
		t.Fatalf("unexpected record %+v", rec)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/attendance/today", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = serve(f.router, req)
	if w.Code != http.StatusOK || w.Body.String() == "null" {
		t.Fatalf("expected record after check-in, got %s", w.Body.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch, _ := f.queue.Consume(ctx)
	msg := <-ch
	evt, err := msg.CheckIn()
	if err != nil || evt.RecordID != rec.ID {
		t.Fatalf("expected queued check-in for %s, got %+v (%v)", rec.ID, evt, err)
	}
}

func TestDuplicateCheckInReportsDetail(t *testing.T) {
	f := newFixture(t)
	tok := token(t, "emp-7", "salesman")
	if w := serve(f.router, checkInRequest(t, tok, pngData(t), validFields())); w.Code != http.StatusCreated {
		t.Fatalf("first check-in: %d", w.Code)
	}
	w := serve(f.router, checkInRequest(t, tok, pngData(t), validFields()))
	if w.Code != http.StatusBadRequest || detailOf(t, w) != "Already checked in today" {
		t.Fatalf("expected duplicate rejection, got %d %s", w.Code, w.Body.String())
	}
}

func TestCheckInValidation(t *testing.T) {
	f := newFixture(t)
	tok := token(t, "emp-7", "salesman")

	if w := serve(f.router, checkInRequest(t, tok, nil, validFields())); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing photo: expected 422, got %d", w.Code)
	}
	if w := serve(f.router, checkInRequest(t, tok, []byte("plain text, not a picture"), validFields())); w.Code != http.StatusBadRequest {
		t.Fatalf("non-image: expected 400, got %d", w.Code)
	}
	bad := validFields()
	bad["time"] = "9am"
	if w := serve(f.router, checkInRequest(t, tok, pngData(t), bad)); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad time: expected 422, got %d", w.Code)
	}
	bad = validFields()
	bad["latitude"] = "123"
	if w := serve(f.router, checkInRequest(t, tok, pngData(t), bad)); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad latitude: expected 422, got %d", w.Code)
	}
}

func TestCheckInRequiresAuth(t *testing.T) {
	f := newFixture(t)
	req := checkInRequest(t, "garbage", pngData(t), validFields())
	if w := serve(f.router, req); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestListScopesNonAdminsToThemselves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.store.Insert(ctx, attendance.Record{EmployeeID: "emp-7", AttendanceDate: "2025-12-24"})
	_, _ = f.store.Insert(ctx, attendance.Record{EmployeeID: "emp-8", AttendanceDate: "2025-12-24"})

	req := httptest.NewRequest(http.MethodGet, "/v1/attendance?employee_id=emp-8", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "emp-7", "salesman"))
	w := serve(f.router, req)
	var out struct {
		Records []attendance.Record `json:"records"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if len(out.Records) != 1 || out.Records[0].EmployeeID != "emp-7" {
		t.Fatalf("salesman should only see own records, got %+v", out.Records)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/attendance", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "boss", RoleAdmin))
	w = serve(f.router, req)
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if len(out.Records) != 2 {
		t.Fatalf("admin should see all records, got %d", len(out.Records))
	}
}

func TestSessionsIssueAndRefresh(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString(`{"employee_id":"emp-7"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(f.router, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &tokens)

	body, _ := json.Marshal(map[string]string{"refresh_token": tokens.RefreshToken})
	req = httptest.NewRequest(http.MethodPost, "/v1/sessions/refresh", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if w := serve(f.router, req); w.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", w.Code)
	}

	body, _ = json.Marshal(map[string]string{"refresh_token": tokens.AccessToken})
	req = httptest.NewRequest(http.MethodPost, "/v1/sessions/refresh", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if w := serve(f.router, req); w.Code != http.StatusUnauthorized {
		t.Fatalf("access token must not refresh, got %d", w.Code)
	}
}

func TestSessionsIgnoreRequestedRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.store.Insert(ctx, attendance.Record{EmployeeID: "victim", AttendanceDate: "2025-12-24"})

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString(`{"employee_id":"attacker","role":"admin"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(f.router, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &tokens)
	claims, err := auth.ParseAccess(tokens.AccessToken, testKey, testIssuer)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Role != RoleSalesman {
		t.Fatalf("self-service session must be salesman, got %q", claims.Role)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/attendance?employee_id=victim", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	w = serve(f.router, req)
	var out struct {
		Records []attendance.Record `json:"records"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if len(out.Records) != 0 {
		t.Fatalf("another employee's records leaked: %+v", out.Records)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := serve(f.router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
