package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/access"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

var testSecret = []byte("test-secret")

type testServer struct {
	t         *testing.T
	handler   http.Handler
	patientID uuid.UUID
	doctorID  uuid.UUID
}

func newTestServer(t *testing.T, rps float64, burst int) *testServer {
	t.Helper()

	cfg := config.Config{
		DefaultDurationMinutes: 30,
		MinDurationMinutes:     15,
		MaxDurationMinutes:     240,
		ClinicLocation:         time.UTC,
	}

	patients := directory.NewMemory()
	patientID := uuid.New()
	patients.Put(patientID, gofakeit.Name())

	svc := appointment.NewService(appointment.NewMemoryStore(), redisclient.NewLocalLocker(), patients,
		access.DefaultPolicy(), cfg, zerolog.Nop())

	return &testServer{
		t: t,
		handler: NewRouter(RouterConfig{
			Service:        svc,
			Logger:         zerolog.Nop(),
			JWTSecret:      testSecret,
			RateLimitRPS:   rps,
			RateLimitBurst: burst,
			Env:            "test",
		}),
		patientID: patientID,
		doctorID:  uuid.New(),
	}
}

func token(t *testing.T, role access.Role) string {
	t.Helper()
	tok, err := IssueToken(testSecret, string(role)+"-"+gofakeit.Username(), string(role), time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(method, path, tok string, body any) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("User-Agent", "handlers-test")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) create(tok, scheduledAt string) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/appointments", tok, CreateAppointmentRequest{
		PatientID:   s.patientID.String(),
		DoctorID:    s.doctorID.String(),
		ScheduledAt: scheduledAt,
	})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, 0, 0)

	rec := s.do(http.MethodGet, "/appointments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/appointments", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := IssueToken([]byte("other-secret"), "mallory", "ADMIN", time.Hour)
	require.NoError(t, err)
	rec = s.do(http.MethodGet, "/appointments", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := IssueToken(testSecret, "admin-1", "ADMIN", -time.Minute)
	require.NoError(t, err)
	rec = s.do(http.MethodGet, "/appointments", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/appointments", token(t, "JANITOR"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/appointments", token(t, access.RoleNurse), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAppointment(t *testing.T) {
	s := newTestServer(t, 0, 0)
	admin := token(t, access.RoleAdmin)

	rec := s.create(admin, "2026-03-02T09:00:00Z")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "SCHEDULED", created.Status)
	assert.Equal(t, 30, created.DurationMinutes)
	assert.Equal(t, created.ScheduledAt.Add(30*time.Minute), created.EndsAt)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = s.create(admin, "2026-03-02T09:15:00Z")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_conflict", decode[ErrorResponse](t, rec).Error)

	rec = s.create(token(t, access.RoleDoctor), "2026-03-02T09:30:00Z")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = s.create(token(t, access.RoleNurse), "2026-03-02T11:00:00Z")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.create(admin, "next tuesday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodPost, "/appointments", admin, map[string]string{"patient_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_patient_id", decode[ErrorResponse](t, rec).Error)

	req := httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+admin)
	raw := httptest.NewRecorder()
	s.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestAppointmentLifecycle(t *testing.T) {
	s := newTestServer(t, 0, 0)
	admin := token(t, access.RoleAdmin)
	doctor := token(t, access.RoleDoctor)
	nurse := token(t, access.RoleNurse)

	created := decode[AppointmentResponse](t, s.create(admin, "2026-03-02T09:00:00Z"))
	path := "/appointments/" + created.ID.String()

	rec := s.do(http.MethodGet, path, nurse, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[AppointmentResponse](t, rec).ID)

	rec = s.do(http.MethodGet, "/appointments/"+uuid.NewString(), nurse, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/appointments/not-a-uuid", nurse, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	notes := "bring lab results"
	rec = s.do(http.MethodPut, path, nurse, UpdateAppointmentRequest{ScheduledAt: "2026-03-02T10:00:00Z", Notes: &notes})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[AppointmentResponse](t, rec)
	assert.Equal(t, 30, moved.DurationMinutes)
	assert.Equal(t, notes, moved.Notes)

	rec = s.do(http.MethodPatch, path+"/status", doctor, ChangeStatusRequest{Status: "in_progress"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPatch, path+"/status", doctor, ChangeStatusRequest{Status: "COMPLETED"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPatch, path+"/status", doctor, ChangeStatusRequest{Status: "CONFIRMED"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodPatch, path+"/status", doctor, ChangeStatusRequest{Status: "DONE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, path, doctor, UpdateAppointmentRequest{ScheduledAt: "2026-03-02T12:00:00Z"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "appointment_locked", decode[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodDelete, path, doctor, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodDelete, path, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[DeleteResponse](t, rec).Deleted)

	rec = s.do(http.MethodGet, path+"/audit", doctor, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, path+"/audit", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trail := decode[AuditTrailResponse](t, rec)
	require.Len(t, trail.Entries, 5)
	assert.Equal(t, "CREATE", string(trail.Entries[0].Action))
	assert.Equal(t, "DELETE_APPOINTMENT", string(trail.Entries[4].Action))
	assert.Equal(t, "handlers-test", trail.Entries[0].UserAgent)
}

func TestListAppointments(t *testing.T) {
	s := newTestServer(t, 0, 0)
	admin := token(t, access.RoleAdmin)

	for _, at := range []string{"2026-03-02T15:00:00Z", "2026-03-02T08:00:00Z", "2026-03-02T11:00:00Z"} {
		require.Equal(t, http.StatusCreated, s.create(admin, at).Code)
	}

	rec := s.do(http.MethodGet, "/appointments?doctor_id="+s.doctorID.String(), admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListAppointmentsResponse](t, rec)
	require.Equal(t, 3, list.Count)
	assert.Equal(t, 8, list.Appointments[0].ScheduledAt.Hour())
	assert.Equal(t, 15, list.Appointments[2].ScheduledAt.Hour())

	rec = s.do(http.MethodGet, "/appointments?from=2026-03-02T10:00:00Z&to=2026-03-02T16:00:00Z&limit=1", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[ListAppointmentsResponse](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, 11, list.Appointments[0].ScheduledAt.Hour())

	rec = s.do(http.MethodGet, "/appointments?status=CANCELLED", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[ListAppointmentsResponse](t, rec).Count)

	for _, q := range []string{"doctor_id=x", "from=yesterday", "status=LOST", "limit=-1"} {
		rec = s.do(http.MethodGet, "/appointments?"+q, admin, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, 0.001, 2)
	nurse := token(t, access.RoleNurse)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/appointments", nurse, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/appointments", nurse, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(http.MethodGet, "/appointments", nurse, nil).Code)

	other := token(t, access.RoleNurse)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/appointments", other, nil).Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 0, 0)

	rec := s.do(http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[ReadinessResponse](t, rec).Status)
}

func TestReadiness_ProbeFailures(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		probes     []probe
		wantCode   int
		wantStatus string
	}{
		{"optional down", []probe{{name: "postgres", required: true, ping: ok}, {name: "redis", ping: down}}, http.StatusOK, "degraded"},
		{"required down", []probe{{name: "postgres", required: true, ping: down}, {name: "redis", ping: ok}}, http.StatusServiceUnavailable, "error"},
		{"both down", []probe{{name: "postgres", required: true, ping: down}, {name: "redis", ping: down}}, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &HealthHandler{probes: tt.probes}
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			require.Equal(t, tt.wantCode, rec.Code)
			resp := decode[ReadinessResponse](t, rec)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Len(t, resp.Dependencies, 2)
		})
	}
}
