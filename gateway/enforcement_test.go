package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEnforcementClientCloseAndCancel(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if r.Header.Get("X-API-KEY") != "key" {
			t.Fatalf("missing api key header")
		}
		paths = append(paths, r.URL.Path)
		io.WriteString(w, `{"results":[{"target":"ESZ6"},{"target":"NQZ6","error":"market closed"}]}`)
	}))
	defer ts.Close()

	cli := &EnforcementClient{BaseURL: ts.URL, APIKey: "key", HTTPClient: ts.Client()}

	results, err := cli.CloseAllPositions("ACC-1")
	if err != nil {
		t.Fatalf("close all err: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("first target should succeed: %v", results[0].Err)
	}
	if results[1].Err == nil || results[1].Target != "NQZ6" {
		t.Fatalf("second target should carry broker error: %+v", results[1])
	}

	if _, err := cli.CancelAllOrders("ACC-1"); err != nil {
		t.Fatalf("cancel all err: %v", err)
	}
	if err := cli.ClosePosition("ACC-1", "ESZ6"); err != nil {
		t.Fatalf("close position err: %v", err)
	}

	want := []string{"/v1/accounts/ACC-1/positions", "/v1/accounts/ACC-1/orders", "/v1/accounts/ACC-1/positions/ESZ6"}
	for i, p := range want {
		if paths[i] != p {
			t.Fatalf("path %d: got %s want %s", i, paths[i], p)
		}
	}
}

func TestEnforcementClientErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	cli := &EnforcementClient{BaseURL: ts.URL, HTTPClient: ts.Client()}
	if _, err := cli.CloseAllPositions("ACC-1"); err == nil {
		t.Fatalf("expected error on 502")
	}
	if err := cli.ClosePosition("ACC-1", "ESZ6"); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestEnforcementClientRequiresHTTPClient(t *testing.T) {
	cli := &EnforcementClient{BaseURL: "http://example.invalid"}
	if _, err := cli.CancelAllOrders("ACC-1"); err == nil {
		t.Fatalf("expected error without http client")
	}
}
