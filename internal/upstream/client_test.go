package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPasswordGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token", r.URL.Path)
		require.Equal(t, "password", r.URL.Query().Get("grant_type"))
		require.Equal(t, "svc-key", r.Header.Get("apikey"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["email"] != "u@example.com" || body["password"] != "pw" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_in":    3600,
			"user":          map[string]string{"id": "u1", "email": "u@example.com"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-key", 5*time.Second)
	pair, err := c.PasswordGrant(context.Background(), "u@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, "at-1", pair.AccessToken)
	require.Equal(t, "rt-1", pair.RefreshToken)
	require.Equal(t, "u1", pair.UserID)
	require.InDelta(t, time.Now().Unix()+3600, pair.ExpiresAt, 5)
}

func TestPasswordGrant_BadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-key", 5*time.Second)
	_, err := c.PasswordGrant(context.Background(), "u@example.com", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRefreshTokenPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["refresh_token"] != "rt-old" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at-new",
			"refresh_token": "rt-new",
			"expires_at":    time.Now().Unix() + 3600,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-key", 5*time.Second)

	pair, err := c.RefreshTokenPair(context.Background(), "rt-old")
	require.NoError(t, err)
	require.Equal(t, "at-new", pair.AccessToken)
	require.Equal(t, "rt-new", pair.RefreshToken)

	_, err = c.RefreshTokenPair(context.Background(), "rt-revoked")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRefreshTokenPair_ServerErrorIsNotUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-key", 5*time.Second)
	_, err := c.RefreshTokenPair(context.Background(), "rt")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnauthorized)
}

func TestGetUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(User{ID: "u1", Email: "u@example.com", Role: "manager", Name: "U"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-key", 5*time.Second)

	u, err := c.GetUser(context.Background(), "at-1")
	require.NoError(t, err)
	require.Equal(t, "u1", u.ID)
	require.Equal(t, "manager", u.Role)

	_, err = c.GetUser(context.Background(), "at-bad")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestUserClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/v1/projects", r.URL.Path)
		require.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		require.Equal(t, "svc-key", r.Header.Get("apikey"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	uc := NewClient(srv.URL, "svc-key", 5*time.Second).UserClient("user-token")
	require.Equal(t, "user-token", uc.AccessToken())

	resp, err := uc.Do(context.Background(), http.MethodGet, "/rest/v1/projects", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-key", 50*time.Millisecond)
	_, err := c.RefreshTokenPair(context.Background(), "rt")
	require.Error(t, err)
}
