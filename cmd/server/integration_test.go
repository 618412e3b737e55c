package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/popwatch/pkg/config"
	"github.com/nicktill/popwatch/pkg/dashboard"
	"github.com/nicktill/popwatch/pkg/docstore"
	"github.com/nicktill/popwatch/pkg/logger"
	"github.com/nicktill/popwatch/pkg/server"
	"github.com/nicktill/popwatch/pkg/status"
)

func e2eConfig(t *testing.T, sourceURL, dataDir string) *config.Config {
	t.Helper()
	t.Setenv("POPWATCH_SOURCE_URL", sourceURL)
	t.Setenv("POPWATCH_DATA_DIR", dataDir)
	t.Setenv("POPWATCH_TIMEZONE", "UTC")
	t.Setenv("POPWATCH_APP_ID", "e2e")
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	return cfg
}

// TestE2E_SampleToDashboard runs the whole pipeline on BadgerDB: the sampler
// polls as soon as the session exists, the write comes back through the
// store's change feed into the window, and the dashboard serves it over HTTP
// and WebSocket.
func TestE2E_SampleToDashboard(t *testing.T) {
	var online atomic.Int32
	online.Store(42)
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/public/origins/users", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int32{"onlineUsers": online.Load()})
	}))
	defer source.Close()

	dataDir := t.TempDir()
	cfg := e2eConfig(t, source.URL, dataDir)
	log := logger.Discard()

	store, err := server.InitializeStorage(cfg, log)
	require.NoError(t, err)

	clock := quartz.NewMock(t)
	clock.Set(time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC))
	c := server.InitializeComponents(cfg, store, clock, log)

	router := mux.NewRouter()
	server.SetupRoutes(router, c, cfg.Port)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	server.StartBackground(ctx, c, &wg)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, c.SignIn(ctx))

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/v1/history")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var hist dashboard.HistoryResponse
		if json.NewDecoder(resp.Body).Decode(&hist) != nil {
			return false
		}
		return hist.Count == 1 && hist.Samples[0].Count == 42
	}, 10*time.Second, 50*time.Millisecond)

	resp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	var snap status.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Equal(t, status.Synchronized, snap.Status)
	assert.Equal(t, "10:00:00 AM", snap.LastUpdatedLabel)

	// The socket eventually carries the same window.
	deadline := time.Now().Add(10 * time.Second)
	for {
		require.NoError(t, ws.SetReadDeadline(deadline))
		var msg dashboard.Message
		require.NoError(t, ws.ReadJSON(&msg))
		if len(msg.Window) == 1 {
			assert.Equal(t, 42, msg.Window[0].Count)
			break
		}
	}

	cancel()
	wg.Wait()
	require.NoError(t, store.Close())

	// Samples survive a restart.
	reopened, err := server.InitializeStorage(cfg, log)
	require.NoError(t, err)
	defer reopened.Close()

	docs, err := reopened.List(context.Background(), docstore.Collection("e2e", config.HistoryCollection))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "20240309T1000", docs[0].ID)
}

// TestE2E_SourceDown keeps serving with the fetch error status.
func TestE2E_SourceDown(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer source.Close()

	t.Setenv("POPWATCH_STORE_IN_MEMORY", "true")
	cfg := e2eConfig(t, source.URL, "")
	log := logger.Discard()

	store, err := server.InitializeStorage(cfg, log)
	require.NoError(t, err)
	defer store.Close()

	c := server.InitializeComponents(cfg, store, quartz.NewMock(t), log)
	router := mux.NewRouter()
	server.SetupRoutes(router, c, cfg.Port)

	require.NoError(t, c.SignIn(context.Background()))
	require.Error(t, c.Sampler.Poll(context.Background()))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	var snap status.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, status.FetchError, snap.Status)
	assert.Nil(t, snap.CurrentCount)
}
