package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type staticTokens struct {
	token string
}

func (s staticTokens) Token() (string, error) { return s.token, nil }

func testClient(baseURL string, tokens TokenSource) *Client {
	return NewClient(Config{
		BaseURL:     baseURL,
		ChatBaseURL: baseURL + "/chat",
		Timeout:     2 * time.Second,
	}, tokens, nil)
}

func TestLoginParsesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/login/" {
			t.Errorf("path = %q, want /api/users/login/", r.URL.Path)
		}
		if r.Method != "POST" {
			t.Errorf("method = %q, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tok-123","user_id":7}`))
	}))
	defer srv.Close()

	res := testClient(srv.URL, nil).Login(context.Background(), "asha", "secret")
	if !res.OK {
		t.Fatalf("OK = false, detail = %q", res.Detail())
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := res.Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Token != "tok-123" {
		t.Errorf("token = %q, want tok-123", body.Token)
	}
}

func TestNonJSONBodyBecomesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer srv.Close()

	res := testClient(srv.URL, nil).Login(context.Background(), "asha", "secret")
	if res.OK {
		t.Error("OK = true, want false for 502")
	}
	if res.Detail() != "<html>bad gateway</html>" {
		t.Errorf("detail = %q, want raw body", res.Detail())
	}
}

func TestNetworkErrorDetail(t *testing.T) {
	// Closed server: requests fail at the transport.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	res := testClient(srv.URL, nil).Login(context.Background(), "asha", "secret")
	if res.OK {
		t.Error("OK = true, want false")
	}
	if res.Detail() != "Network error" {
		t.Errorf("detail = %q, want Network error", res.Detail())
	}
}

func TestMissingTokenShortCircuits(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	res := testClient(srv.URL, staticTokens{token: ""}).Me(context.Background())
	if res.OK {
		t.Error("OK = true, want false")
	}
	if res.Detail() != "Missing credentials" {
		t.Errorf("detail = %q, want Missing credentials", res.Detail())
	}
	if calls != 0 {
		t.Errorf("server saw %d calls, want 0 (must short-circuit before I/O)", calls)
	}
}

func TestBearerHeaderAttached(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"username":"asha"}`))
	}))
	defer srv.Close()

	res := testClient(srv.URL, staticTokens{token: "tok-9"}).Me(context.Background())
	if !res.OK {
		t.Fatalf("OK = false, detail = %q", res.Detail())
	}
	if gotAuth != "Bearer tok-9" {
		t.Errorf("Authorization = %q, want Bearer tok-9", gotAuth)
	}
}

func TestSafePlacesQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"Central Police Station","category":"police","distance_meters":220}]`))
	}))
	defer srv.Close()

	res := testClient(srv.URL, staticTokens{token: "t"}).SafePlaces(context.Background(), 27.7, 85.3)
	if !res.OK {
		t.Fatalf("OK = false, detail = %q", res.Detail())
	}
	if gotQuery != "lat=27.7&lng=85.3" {
		t.Errorf("query = %q, want lat=27.7&lng=85.3", gotQuery)
	}
}

func TestListMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/messages/" {
			t.Errorf("path = %q, want /chat/messages/", r.URL.Path)
		}
		if got := r.URL.Query().Get("contact"); got != "7" {
			t.Errorf("contact = %q, want 7", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":11,"sender":"1","receiver":"7","message":"hello"}]`))
	}))
	defer srv.Close()

	msgs, err := testClient(srv.URL, nil).ListMessages(context.Background(), "7")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].ID.String() != "11" {
		t.Errorf("id = %q, want 11", msgs[0].ID.String())
	}
	if msgs[0].Message != "hello" {
		t.Errorf("message = %q, want hello", msgs[0].Message)
	}
}

func TestPostMessage(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := testClient(srv.URL, nil).PostMessage(context.Background(), "1", "7", "stay safe")
	if err != nil {
		t.Fatal(err)
	}
	want := `{"message":"stay safe","receiver":"7","sender":"1"}`
	if gotBody != want {
		t.Errorf("body = %s, want %s", gotBody, want)
	}
}

func TestPostMessageServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := testClient(srv.URL, nil).PostMessage(context.Background(), "1", "7", "x"); err == nil {
		t.Error("expected error for 500 response")
	}
}
