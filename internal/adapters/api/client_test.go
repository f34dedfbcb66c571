package api_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comitanigiacomo/walme-bot/internal/adapters/api"
	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
	"github.com/comitanigiacomo/walme-bot/internal/testutil"
)

type timeoutTransport struct {
	calls atomic.Int32
}

func (t *timeoutTransport) RoundTrip(*http.Request) (*http.Response, error) {
	t.calls.Add(1)
	return nil, errors.New("dial tcp: i/o timeout")
}

func newClient(baseURL string, attempts int, sleeper *testutil.Sleeper, opts ...api.Option) *api.Client {
	opts = append(opts, api.WithSleeper(sleeper))
	return api.NewClient(baseURL, attempts, zerolog.Nop(), opts...)
}

func TestClient_FetchProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("Success: sends bearer token and parses profile", func(t *testing.T) {
		var gotAuth, gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotPath = r.URL.Path
			w.Write([]byte(`{"email":"alice@walme.io","nickname":"alice"}`))
		}))
		defer srv.Close()

		client := newClient(srv.URL, 3, &testutil.Sleeper{})
		profile, err := client.FetchProfile(ctx, "tok-1", "")

		require.NoError(t, err)
		assert.Equal(t, "alice@walme.io", profile.Email)
		assert.Equal(t, "alice", profile.Nickname)
		assert.Equal(t, "Bearer tok-1", gotAuth)
		assert.Equal(t, "/user/profile", gotPath)
	})

	t.Run("Success: wrapped payload and missing nickname", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"email":"bob@walme.io"}}`))
		}))
		defer srv.Close()

		profile, err := newClient(srv.URL, 1, &testutil.Sleeper{}).FetchProfile(ctx, "tok", "")
		require.NoError(t, err)
		assert.Equal(t, "bob@walme.io", profile.Email)
		assert.Equal(t, "unknown", profile.Nickname)
	})

	t.Run("Fail: transport always times out, exactly N attempts", func(t *testing.T) {
		rt := &timeoutTransport{}
		sleeper := &testutil.Sleeper{}
		client := newClient("http://walme.invalid", 3, sleeper, api.WithTransport(rt))

		_, err := client.FetchProfile(ctx, "tok", "")

		assert.ErrorIs(t, err, domain.ErrRetriesExhausted)
		assert.Equal(t, int32(3), rt.calls.Load())
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Sleeps())
	})

	t.Run("Fail: non-2xx is not retried", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"jwt expired"}`))
		}))
		defer srv.Close()

		sleeper := &testutil.Sleeper{}
		_, err := newClient(srv.URL, 3, sleeper).FetchProfile(ctx, "tok", "")

		var apiErr *domain.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Contains(t, apiErr.Body, "jwt expired")
		assert.ErrorIs(t, err, domain.ErrUnexpectedStatus)
		assert.Equal(t, int32(1), hits.Load())
		assert.Zero(t, sleeper.Count())
	})

	t.Run("Zero attempts still issues one request", func(t *testing.T) {
		rt := &timeoutTransport{}
		client := newClient("http://walme.invalid", 0, &testutil.Sleeper{}, api.WithTransport(rt))

		_, err := client.FetchProfile(ctx, "tok", "")
		assert.ErrorIs(t, err, domain.ErrRetriesExhausted)
		assert.Equal(t, int32(1), rt.calls.Load())
	})

	t.Run("Cancelled context stops retrying", func(t *testing.T) {
		rt := &timeoutTransport{}
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := newClient("http://walme.invalid", 5, &testutil.Sleeper{}, api.WithTransport(rt)).FetchProfile(cctx, "tok", "")
		assert.ErrorIs(t, err, context.Canceled)
		assert.LessOrEqual(t, rt.calls.Load(), int32(1))
	})
}

func TestClient_FetchTasks(t *testing.T) {
	ctx := context.Background()

	t.Run("Success: decodes nested tasks with numeric ids", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/waitlist/tasks", r.URL.Path)
			w.Write([]byte(`[{"id":1,"title":"A","status":"new"},{"id":2,"title":"B","status":"new","child":[{"id":3,"status":"new"}]}]`))
		}))
		defer srv.Close()

		tasks, err := newClient(srv.URL, 1, &testutil.Sleeper{}).FetchTasks(ctx, "tok", "")
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, domain.TaskID("1"), tasks[0].ID)
		assert.Equal(t, domain.TaskID("3"), tasks[1].Child[0].ID)
	})

	t.Run("Fail: malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"tasks": "nope"}`))
		}))
		defer srv.Close()

		_, err := newClient(srv.URL, 1, &testutil.Sleeper{}).FetchTasks(ctx, "tok", "")
		assert.ErrorIs(t, err, domain.ErrInvalidTask)
	})
}

func TestClient_CompleteTask(t *testing.T) {
	var method, path, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path, contentType = r.Method, r.URL.Path, r.Header.Get("Content-Type")
		io.Copy(io.Discard, r.Body)
		w.Write([]byte(`{"id":77,"title":"Share","status":"completed"}`))
	}))
	defer srv.Close()

	task, err := newClient(srv.URL, 1, &testutil.Sleeper{}).CompleteTask(context.Background(), "77", "tok", "")

	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, "/waitlist/tasks/77", path)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "Share", task.Title)
	assert.Equal(t, "completed", task.Status)
}

func TestClient_RoutesThroughProxy(t *testing.T) {
	var proxiedHost string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxiedHost = r.Host
		w.Write([]byte(`{"email":"p@walme.io","nickname":"p"}`))
	}))
	defer proxy.Close()

	proxyAddr := proxy.Listener.Addr().String()
	client := newClient("http://api.walme.invalid", 1, &testutil.Sleeper{})

	profile, err := client.FetchProfile(context.Background(), "tok", proxyAddr)
	require.NoError(t, err)
	assert.Equal(t, "p@walme.io", profile.Email)
	assert.Equal(t, "api.walme.invalid", proxiedHost)
}

func TestNormalizeProxy(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1.2.3.4:8080", want: "http://1.2.3.4:8080"},
		{in: "http://u:p@1.2.3.4:8080", want: "http://u:p@1.2.3.4:8080"},
		{in: "https://proxy.io:443", want: "https://proxy.io:443"},
		{in: "socks5://10.0.0.1:1080", want: "socks5://10.0.0.1:1080"},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := api.NormalizeProxy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, api.Backoff(0))
	assert.Equal(t, 2*time.Second, api.Backoff(1))
	assert.Equal(t, 4*time.Second, api.Backoff(2))
	assert.Equal(t, 512*time.Second, api.Backoff(9))

	for _, attempt := range []int{10, 33, 34, 63, 1000} {
		assert.Equal(t, api.MaxBackoff, api.Backoff(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, time.Second, api.Backoff(-1))
}
