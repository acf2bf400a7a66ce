package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAPIClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/request":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["address"] == "bad" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"Not a valid address."}`))
				return
			}
			w.Write([]byte(`{"txid":"abcd"}`))
		case "/api/v1/admin/rebalance":
			if r.Header.Get("X-Faucet-Secret") == "half" {
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte(`{"error":"Server error.","base_txid":"ff"}`))
				return
			}
			if r.Header.Get("X-Faucet-Secret") != "s3cret" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"Unauthorized."}`))
				return
			}
			w.Write([]byte(`{"status":"ok","base_txid":"ff"}`))
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL + "/")

	var resp struct {
		TxID string `json:"txid"`
	}
	if err := c.do(http.MethodPost, "/api/v1/request", nil, map[string]string{"address": "x"}, &resp); err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.TxID != "abcd" {
		t.Errorf("txid = %q", resp.TxID)
	}

	tests := []struct {
		name    string
		path    string
		header  map[string]string
		body    interface{}
		status  int
		message string
		baseTx  string
	}{
		{"json error", "/api/v1/request", nil, map[string]string{"address": "bad"}, 400, "Not a valid address.", ""},
		{"wrong secret", "/api/v1/admin/rebalance", map[string]string{"X-Faucet-Secret": "x"}, nil, 401, "Unauthorized.", ""},
		{"partial rebalance", "/api/v1/admin/rebalance", map[string]string{"X-Faucet-Secret": "half"}, nil, 502, "Server error.", "ff"},
		{"plain text error", "/missing", nil, nil, 404, "nope", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.do(http.MethodPost, tt.path, tt.header, tt.body, nil)
			var apiErr *apiError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *apiError", err)
			}
			if apiErr.Status != tt.status || apiErr.Message != tt.message || apiErr.BaseTxID != tt.baseTx {
				t.Errorf("got %+v, want %d %q base %q", apiErr, tt.status, tt.message, tt.baseTx)
			}
		})
	}
}

func TestRebalanceCmd_Secret(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Faucet-Secret")
		w.Write([]byte(`{"status":"Token distribution instantiated...","base_txid":"aa","token_txid":"bb"}`))
	}))
	defer srv.Close()

	t.Setenv("KLINGNET_FAUCET_ADMIN_SECRET", "from-env")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"env", []string{"--api", srv.URL, "rebalance"}, "from-env"},
		{"flag wins", []string{"--api", srv.URL, "rebalance", "--secret", "from-flag"}, "from-flag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			root := newRootCmd()
			root.SetOut(&out)
			root.SetArgs(tt.args)
			if err := root.Execute(); err != nil {
				t.Fatalf("execute: %v", err)
			}
			if got != tt.want {
				t.Errorf("secret = %q, want %q", got, tt.want)
			}
			if !strings.Contains(out.String(), "Token: bb") {
				t.Errorf("output = %q", out.String())
			}
		})
	}
}
