package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDeployErrorCarriesCodeAndStage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/projects/p1/deploy" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["server"] != "production" {
			t.Errorf("unexpected server %q", body["server"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"deployment failed at stage build","code":"DeploymentFailed","stage":"build"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Deploy(context.Background(), "p1", "production")
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusInternalServerError || apiErr.Code != "DeploymentFailed" || apiErr.Stage != "build" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestReadFileReturnsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("path"); got != "src/app file.js" {
			t.Errorf("unexpected path %q", got)
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("console.log(1)"))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	content, err := c.ReadFile(context.Background(), "p1", "src/app file.js")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if content != "console.log(1)" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestNewDefaultsBaseURL(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.baseURL != DefaultBaseURL {
		t.Fatalf("unexpected base url %q", c.baseURL)
	}
	c, _ = New("localhost:9000/")
	if c.baseURL != "http://localhost:9000" {
		t.Fatalf("unexpected base url %q", c.baseURL)
	}
}
