package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/oauth2-proxy/mockoidc"

	testHelper "clinic-auth-gateway/internal/test"
)

var (
	PatientUser = &mockoidc.MockUser{
		Subject:           "patient-1",
		PreferredUsername: "mock-patient",
		Email:             "patient@example.org",
	}
)

type httpTestEnv struct {
	M      *mockoidc.MockOIDC
	WS     *Webserver
	Client *http.Client
	Config *Config
}

func (h *httpTestEnv) Close() error {
	err := h.M.Shutdown()
	if err != nil {
		return err
	}
	return h.WS.Close()
}

func (h *httpTestEnv) url(path string) string {
	return fmt.Sprintf("%s/%s", h.Config.Content.OIDC.BaseUrl, path)
}

func (h *httpTestEnv) resetClient(t *testing.T) {
	h.Client = testHelper.HttpClient(t)
}

func newHttpTestEnv(t *testing.T, apiBase string) httpTestEnv {
	t.Helper()
	cfg, m, ws, err := SetupGateway(apiBase)
	if err != nil {
		t.Fatal(err)
	}
	err = ws.StartAsync()
	if err != nil {
		t.Fatal(err)
	}
	return httpTestEnv{m, ws, testHelper.HttpClient(t), cfg}
}

// ------ TESTS ------

func TestPublicAreas(t *testing.T) {
	env := newHttpTestEnv(t, "")
	defer func() {
		err := env.Close()
		if err != nil {
			t.Fatal(err)
		}
	}()

	testGet(t, env, "", 200, "area=home")
	testGet(t, env, "patient", 200, "area=patient-entry")
	testGet(t, env, "pro", 200, "area=pro-entry")
}

func TestAnonymousAppRedirects(t *testing.T) {
	env := newHttpTestEnv(t, "")
	defer func() {
		err := env.Close()
		if err != nil {
			t.Fatal(err)
		}
	}()

	// the client follows the gate's redirect to the entry page
	testGet(t, env, "app", 200, "area=patient-entry")
	testGet(t, env, "app/patient", 200, "area=patient-entry")
	testGet(t, env, "app/pro", 200, "area=pro-entry")
	testGet(t, env, "app/pro/admin", 200, "area=pro-entry")
}

func TestSignInFlow(t *testing.T) {
	env := newHttpTestEnv(t, "")
	defer func() {
		err := env.Close()
		if err != nil {
			t.Fatal(err)
		}
	}()

	env.M.QueueUser(PatientUser)

	// login walks through the mock IdP and ends on the shared dashboard
	testGet(t, env, "auth/patient/login", 200, "area=dashboard user=patient-1")

	// the mock IdP issues no clinic roles, so both role-gated areas bounce
	// back to their entry points even though the session is authenticated
	testGet(t, env, "app/patient", 200, "area=patient-entry")
	testGet(t, env, "app/pro", 200, "area=pro-entry")

	// sign-out drops the session; the gate turns anonymous again
	testGet(t, env, "auth/logout", 200, "area=home")
	testGet(t, env, "app", 200, "area=patient-entry")
}

func TestBFFRequiresSession(t *testing.T) {
	env := newHttpTestEnv(t, "")
	defer func() {
		err := env.Close()
		if err != nil {
			t.Fatal(err)
		}
	}()

	res, err := env.Client.Post(env.url("api/bff/appointments"), "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestBFFForwardsBearer(t *testing.T) {
	var gotAuth, gotRequestID string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"created"}`))
	}))
	defer api.Close()

	env := newHttpTestEnv(t, api.URL)
	defer func() {
		err := env.Close()
		if err != nil {
			t.Fatal(err)
		}
	}()

	env.M.QueueUser(PatientUser)
	testGet(t, env, "auth/patient/login", 200, "area=dashboard user=patient-1")

	res, err := env.Client.Post(env.url("api/bff/appointments"), "application/json", strings.NewReader(`{"slot":"2026-09-01T10:00:00Z"}`))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	testHelper.AssertBodyString(t, res, `{"status":"created"}`)

	assert.Equal(t, true, strings.HasPrefix(gotAuth, "Bearer "))
	assert.Equal(t, true, len(gotAuth) > len("Bearer "))
	assert.NotEqual(t, "", gotRequestID)
}

// ------ HELPERS ------

// testGet function to simplify repetitive tests
func testGet(t *testing.T, env httpTestEnv, path string, expectedStatus int, expectedBody string) {
	t.Helper()
	result, err := env.Client.Get(env.url(path))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, expectedStatus, result.StatusCode)
	if expectedBody != "" {
		testHelper.AssertBodyString(t, result, expectedBody)
	}
}
