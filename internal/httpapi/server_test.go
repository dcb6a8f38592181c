package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/privchat-go/internal/store"
)

type fixedStats struct{ sessions, online int }

func (f fixedStats) SessionCount() int { return f.sessions }
func (f fixedStats) OnlineCount() int  { return f.online }

func newTestServer(t *testing.T, st store.Store) *httptest.Server {
	t.Helper()
	srv := NewServer(Config{}, Deps{
		Store:    st,
		Stats:    fixedStats{sessions: 3, online: 2},
		Gatherer: prometheus.NewRegistry(),
		WS: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, strings.TrimSpace(string(respBody))
}

func TestSaveUsername(t *testing.T) {
	st := store.NewMemoryStore()
	ts := newTestServer(t, st)

	code, body := doRequest(t, http.MethodPost, ts.URL+"/saveUsername", `{"username":"alice"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"message":"Username saved successfully"}`, body)

	code, body = doRequest(t, http.MethodPost, ts.URL+"/saveUsername", `{"username":"alice"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"message":"Username already exists, proceeding to chat"}`, body)

	for _, bad := range []string{`{}`, `{"username":""}`, `{"username":"   "}`, `not json`} {
		code, body = doRequest(t, http.MethodPost, ts.URL+"/saveUsername", bad)
		assert.Equal(t, http.StatusBadRequest, code, bad)
		assert.JSONEq(t, `{"error":"Username is required"}`, body, bad)
	}

	code, _ = doRequest(t, http.MethodPost, ts.URL+"/saveUsername", `{"username":"`+strings.Repeat("x", 65)+`"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSaveUsernameConcurrent(t *testing.T) {
	st := store.NewMemoryStore()
	ts := newTestServer(t, st)

	const n = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		saved int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, body := doRequest(t, http.MethodPost, ts.URL+"/saveUsername", `{"username":"carol"}`)
			if code == http.StatusOK && strings.Contains(body, "saved successfully") {
				mu.Lock()
				saved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, saved)
}

func TestChatUsers(t *testing.T) {
	st := store.NewMemoryStore()
	ts := newTestServer(t, st)

	code, body := doRequest(t, http.MethodGet, ts.URL+"/chatUsers", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, body)

	_, _, err := st.FindOrCreateUser(t.Context(), "alice")
	require.NoError(t, err)
	_, _, err = st.FindOrCreateUser(t.Context(), "bob")
	require.NoError(t, err)

	code, body = doRequest(t, http.MethodGet, ts.URL+"/chatUsers", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"username":"alice"`)
	assert.Contains(t, body, `"username":"bob"`)

	code, body = doRequest(t, http.MethodGet, ts.URL+"/chatUsers/bob", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"username":"bob"`)

	code, body = doRequest(t, http.MethodGet, ts.URL+"/chatUsers/nobody", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, `{"error":"User not found"}`, body)
}

func TestMessagesAndDelete(t *testing.T) {
	st := store.NewMemoryStore()
	ts := newTestServer(t, st)

	base := time.UnixMilli(1_700_000_000_000)
	m1, err := st.InsertMessage(t.Context(), "alice", "bob", "hi", base)
	require.NoError(t, err)
	_, err = st.InsertMessage(t.Context(), "bob", "alice", "yo", base.Add(time.Second))
	require.NoError(t, err)
	_, err = st.InsertMessage(t.Context(), "alice", "carol", "other", base)
	require.NoError(t, err)

	code, body := doRequest(t, http.MethodGet, ts.URL+"/messages/bob/alice", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Less(t, strings.Index(body, `"text":"hi"`), strings.Index(body, `"text":"yo"`))
	assert.NotContains(t, body, "other")

	code, body = doRequest(t, http.MethodGet, ts.URL+"/messages/x/y", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, body)

	code, body = doRequest(t, http.MethodDelete, ts.URL+"/messages/"+m1.ID, "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"message":"Message deleted successfully"}`, body)

	code, body = doRequest(t, http.MethodDelete, ts.URL+"/messages/"+m1.ID, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, `{"error":"Message not found"}`, body)
}

type brokenStore struct {
	store.Store
	mock.Mock
}

func (b *brokenStore) ListUsers(ctx context.Context) ([]*store.User, error) {
	args := b.Called(ctx)
	return nil, args.Error(1)
}

func (b *brokenStore) FindMessages(ctx context.Context, userA, userB string) ([]*store.Message, error) {
	args := b.Called(ctx, userA, userB)
	return nil, args.Error(1)
}

func TestStoreFailureIsInternalError(t *testing.T) {
	st := &brokenStore{}
	st.On("ListUsers", mock.Anything).Return(nil, errors.New("disk gone"))
	st.On("FindMessages", mock.Anything, "a", "b").Return(nil, errors.New("disk gone"))
	ts := newTestServer(t, st)

	for _, path := range []string{"/chatUsers", "/messages/a/b"} {
		code, body := doRequest(t, http.MethodGet, ts.URL+path, "")
		assert.Equal(t, http.StatusInternalServerError, code, path)
		assert.JSONEq(t, `{"error":"Internal server error"}`, body, path)
	}
	st.AssertExpectations(t)
}

func TestHealthMetricsAndMounts(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())

	code, body := doRequest(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"sessions":3`)
	assert.Contains(t, body, `"online":2`)

	code, _ = doRequest(t, http.MethodGet, ts.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, code)

	code, body = doRequest(t, http.MethodGet, ts.URL+"/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body)

	code, _ = doRequest(t, http.MethodGet, ts.URL+"/ws", "")
	assert.Equal(t, http.StatusTeapot, code)

	code, _ = doRequest(t, http.MethodGet, ts.URL+"/debug/pprof/", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())

	req, err := http.NewRequestWithContext(t.Context(), http.MethodOptions, ts.URL+"/saveUsername", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req, err = http.NewRequestWithContext(t.Context(), http.MethodOptions, ts.URL+"/saveUsername", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
