package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harisbotic/ustore/pkg/substrate"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := substrate.Open(filepath.Join(t.TempDir(), "db"), substrate.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	srv := httptest.NewServer(NewServer(db).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = db.Close()
	})
	return srv
}

func do(t *testing.T, method, url string, body string) (*http.Response, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, string(b)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "ok") {
		t.Fatalf("healthz: %d %q", resp.StatusCode, body)
	}
}

func TestDocLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodPut, srv.URL+"/v1/docs/main/7", `{"a":{"b":42}}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("put: %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/docs/main/7", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: %d %s", resp.StatusCode, body)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		t.Fatalf("get body: %v", err)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/docs/main/7?field=/a/b", "")
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(body) != "42" {
		t.Fatalf("field get: %d %q", resp.StatusCode, body)
	}

	// insert mode over a present key conflicts
	resp, _ = do(t, http.MethodPut, srv.URL+"/v1/docs/main/7?mode=insert", `{"x":1}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("insert over present: %d", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodDelete, srv.URL+"/v1/docs/main/7", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/docs/main/7", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: %d", resp.StatusCode)
	}
}

func TestEdgesEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/graph/main/edges",
		`[{"source":1,"target":2,"edge":100}]`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("post edges: %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/graph/main/edges?vertex=2&role=any", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get edges: %d %s", resp.StatusCode, body)
	}
	var out struct {
		Degree  *uint32 `json:"degree"`
		Triples []struct {
			Source int64 `json:"source"`
			Target int64 `json:"target"`
			Edge   int64 `json:"edge"`
		} `json:"triples"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("edges body: %v", err)
	}
	if out.Degree == nil || *out.Degree != 1 || len(out.Triples) != 1 {
		t.Fatalf("edges response: %s", body)
	}
	if out.Triples[0].Source != 2 || out.Triples[0].Target != 1 || out.Triples[0].Edge != 100 {
		t.Fatalf("triple: %+v", out.Triples[0])
	}

	// missing vertex has null degree
	resp, body = do(t, http.MethodGet, srv.URL+"/v1/graph/main/edges?vertex=99", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"degree":null`) {
		t.Fatalf("missing vertex: %d %s", resp.StatusCode, body)
	}
}

func TestPathsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	putURL := srv.URL + "/v1/paths/main?path=" + url.QueryEscape("cfg/app")
	resp, body := do(t, http.MethodPut, putURL, "payload-bytes")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("put path: %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, putURL, "")
	if resp.StatusCode != http.StatusOK || body != "payload-bytes" {
		t.Fatalf("get path: %d %q", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/paths/main?match="+url.QueryEscape("cfg/*"), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("match: %d %s", resp.StatusCode, body)
	}
	var out struct {
		Paths []string `json:"paths"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("match body: %v", err)
	}
	if len(out.Paths) != 1 || out.Paths[0] != "cfg/app" {
		t.Fatalf("match paths: %v", out.Paths)
	}

	resp, _ = do(t, http.MethodDelete, putURL, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete path: %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, putURL, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, body := do(t, http.MethodGet, srv.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
	if !bytes.Contains([]byte(body), []byte("go_")) {
		t.Fatalf("metrics body unexpectedly empty")
	}
}
