package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewClientRejectsEmptyBaseURL(t *testing.T) {
	if _, err := NewClient("   "); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestNewClientTrimsTrailingSlash(t *testing.T) {
	c, err := NewClient("http://example.test/")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.baseURL != "http://example.test" {
		t.Fatalf("baseURL = %q", c.baseURL)
	}
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/login" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["email"] != "a@b.com" || body["password"] != "pw" {
			t.Fatalf("unexpected credentials %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "T1", "user_id": "U1", "username": "bob",
		})
	})

	res, err := c.Login(context.Background(), "a@b.com", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.AccessToken != "T1" || res.UserID != "U1" || res.Username != "bob" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestServerErrorCarriesBodyMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
	})

	_, err := c.Login(context.Background(), "a@b.com", "bad")
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if se.Status != http.StatusUnauthorized || se.Message != "invalid credentials" {
		t.Fatalf("unexpected server error %+v", se)
	}
	if !IsAuthError(err) {
		t.Fatal("401 must classify as auth error")
	}
}

func TestServerErrorToleratesNonJSONBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	_, err := c.UserData(context.Background(), "T1")
	var se *ServerError
	if !errors.As(err, &se) || se.Status != http.StatusBadGateway || se.Message != "" {
		t.Fatalf("unexpected error %v", err)
	}
	if IsAuthError(err) {
		t.Fatal("502 must not classify as auth error")
	}
}

func TestUserDataSendsBearerToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer T1" {
			t.Fatalf("authorization header = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id": "U1", "username": "bob", "email": "a@b.com",
		})
	})

	u, err := c.UserData(context.Background(), "T1")
	if err != nil {
		t.Fatalf("user data: %v", err)
	}
	if u.ID != "U1" || u.Username != "bob" || u.Email != "a@b.com" {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestMalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{truncated"))
	})

	_, err := c.UserData(context.Background(), "T1")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestTransportErrorIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c, err := NewClient(url)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := c.Login(context.Background(), "a@b.com", "pw"); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history" || r.Header.Get("Authorization") != "Bearer T1" {
			t.Fatalf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"chat_history":[
			{"history_id":42,"chat":[{"user":"hi","ai":"hello"}]},
			{"history_id":43,"chat":[]}
		]}`))
	})

	entries, err := c.History(context.Background(), "T1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 || entries[0].HistoryID != 42 || entries[0].Chat[0].AI != "hello" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestDeleteChat(t *testing.T) {
	success := true
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": success})
	})

	if err := c.DeleteChat(context.Background(), "T1", 7); err != nil {
		t.Fatalf("delete chat: %v", err)
	}
	if gotPath != "/delete_chat/7" {
		t.Fatalf("unexpected path %q", gotPath)
	}

	success = false
	if err := c.DeleteChat(context.Background(), "T1", 7); !errors.Is(err, ErrDeleteRejected) {
		t.Fatalf("expected ErrDeleteRejected, got %v", err)
	}
}

func TestGetResponseHistoryIDVariants(t *testing.T) {
	cases := []struct {
		name string
		body string
		want *int64
	}{
		{"string", `{"response":"hello","history_id":"42"}`, int64p(42)},
		{"number", `{"response":"hello","history_id":42}`, int64p(42)},
		{"null", `{"response":"hello","history_id":null}`, nil},
		{"absent", `{"response":"hello"}`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			})
			resp, err := c.GetResponse(context.Background(), "T1", ChatRequest{Message: "hi"})
			if err != nil {
				t.Fatalf("get response: %v", err)
			}
			if resp.Response != "hello" {
				t.Fatalf("response text = %q", resp.Response)
			}
			switch {
			case tc.want == nil && resp.HistoryID != nil:
				t.Fatalf("expected nil history id, got %d", *resp.HistoryID)
			case tc.want != nil && (resp.HistoryID == nil || *resp.HistoryID != *tc.want):
				t.Fatalf("history id = %v, want %d", resp.HistoryID, *tc.want)
			}
		})
	}
}

func TestGetResponseRejectsGarbageHistoryID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"hello","history_id":"forty-two"}`))
	})
	if _, err := c.GetResponse(context.Background(), "T1", ChatRequest{Message: "hi"}); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestGetResponseRequestBody(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	})

	id := int64(42)
	_, err := c.GetResponse(context.Background(), "T1", ChatRequest{
		Message:   "hi",
		HistoryID: &id,
		Username:  "bob",
	})
	if err != nil {
		t.Fatalf("get response: %v", err)
	}
	if got["message"] != "hi" || got["history_id"] != float64(42) || got["username"] != "bob" {
		t.Fatalf("unexpected request body %v", got)
	}

	// A fresh conversation must serialize history_id as an explicit null.
	got = nil
	if _, err := c.GetResponse(context.Background(), "T1", ChatRequest{Message: "hi"}); err != nil {
		t.Fatalf("get response: %v", err)
	}
	if v, present := got["history_id"]; !present || v != nil {
		t.Fatalf("expected explicit null history_id, got %v present=%v", v, present)
	}
}

func TestRegister(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/register" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
	})
	if err := c.Register(context.Background(), "bob", "a@b.com", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
}

func TestDeleteAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/delete_account" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := c.DeleteAccount(context.Background(), "T1"); err != nil {
		t.Fatalf("delete account: %v", err)
	}
}

func int64p(v int64) *int64 { return &v }
