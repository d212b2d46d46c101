package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumenclean/internal/database"
	"lumenclean/internal/models"
	"lumenclean/internal/queue"
	"lumenclean/internal/realtime"
	"lumenclean/internal/repository"
	"lumenclean/internal/service"
	"lumenclean/internal/transcription/adapters"
	"lumenclean/internal/transcription/classifier"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T, maxPending, workers int) *service.Service {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)

	svc := service.New(repository.NewTurnStore(db), adapters.NewLocalAdapter(), service.Options{
		Defaults:    models.DefaultSettings(),
		MaxWindow:   models.MaxWindowSize,
		Timeout:     time.Second,
		NoisePolicy: classifier.DefaultNoisePolicy(),
		MaxPending:  maxPending,
	})
	if workers > 0 {
		require.NoError(t, svc.Start(context.Background(), workers, false))
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
		_ = database.Close(db)
	})
	return svc
}

func newTestRouter(t *testing.T, auth AuthConfig) (*gin.Engine, *service.Service) {
	t.Helper()
	svc := newTestService(t, 0, 2)
	return SetupRoutes(NewHandler(svc), auth), svc
}

func doJSON(router http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createTurn(t *testing.T, router http.Handler, conv, body string) string {
	t.Helper()
	w := doJSON(router, http.MethodPost, "/api/v1/conversations/"+conv+"/turns", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp CreateTurnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.TurnID)
	return resp.TurnID
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, AuthConfig{})
	w := doJSON(router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCreateTurn_ProcessedAndListed(t *testing.T) {
	router, _ := newTestRouter(t, AuthConfig{})

	id := createTurn(t, router, "conv-1", `{"speaker":"User","text":"um hi"}`)

	var turn models.Turn
	require.Eventually(t, func() bool {
		w := doJSON(router, http.MethodGet, "/api/v1/turns/"+id, "")
		if w.Code != http.StatusOK {
			return false
		}
		return json.Unmarshal(w.Body.Bytes(), &turn) == nil && turn.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "Hi.", turn.CleanedText)
	assert.Equal(t, models.StateCompleted, turn.State)
	assert.True(t, turn.CleaningApplied)

	w := doJSON(router, http.MethodGet, "/api/v1/conversations/conv-1/turns", "")
	require.Equal(t, http.StatusOK, w.Code)
	var turns []models.Turn
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &turns))
	require.Len(t, turns, 1)
	assert.Equal(t, id, turns[0].ID)

	w = doJSON(router, http.MethodGet, "/api/v1/conversations/conv-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.Equal(t, []string{id}, conv.TurnIDs)
	assert.Equal(t, models.LevelFull, conv.CleaningLevel)
}

func TestCreateTurn_AssistantBypass(t *testing.T) {
	router, _ := newTestRouter(t, AuthConfig{})

	id := createTurn(t, router, "conv-1", `{"speaker":"lumen","text":"um, sure thing"}`)

	var turn models.Turn
	require.Eventually(t, func() bool {
		w := doJSON(router, http.MethodGet, "/api/v1/turns/"+id, "")
		return json.Unmarshal(w.Body.Bytes(), &turn) == nil && turn.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, models.StateSkipped, turn.State)
	assert.Equal(t, "um, sure thing", turn.CleanedText)
	assert.Equal(t, models.ConfidenceBypass, turn.Confidence)
}

func TestCreateTurn_Validation(t *testing.T) {
	router, _ := newTestRouter(t, AuthConfig{})

	tests := []struct {
		name string
		conv string
		body string
	}{
		{"malformed json", "conv", `{"speaker":`},
		{"missing text", "conv", `{"speaker":"User"}`},
		{"blank text", "conv", `{"speaker":"User","text":"   "}`},
		{"unknown speaker", "conv", `{"speaker":"Narrator","text":"hi"}`},
		{"unknown level", "conv", `{"speaker":"User","text":"hi","cleaning_level":"extreme"}`},
		{"bad conversation id", "bad!id", `{"speaker":"User","text":"hi"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/api/v1/conversations/"+tt.conv+"/turns", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestNotFound(t *testing.T) {
	router, _ := newTestRouter(t, AuthConfig{})

	for _, path := range []string{
		"/api/v1/conversations/missing",
		"/api/v1/conversations/missing/turns",
		"/api/v1/turns/00000000-0000-0000-0000-000000000000",
	} {
		w := doJSON(router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	w := doJSON(router, http.MethodPatch, "/api/v1/conversations/missing/settings", `{"window_size":2}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateSettings(t *testing.T) {
	router, _ := newTestRouter(t, AuthConfig{})
	createTurn(t, router, "conv-1", `{"speaker":"User","text":"hello"}`)

	w := doJSON(router, http.MethodPatch, "/api/v1/conversations/conv-1/settings",
		`{"window_size":2,"cleaning_level":"light"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var conv models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.Equal(t, 2, conv.WindowSize)
	assert.Equal(t, models.LevelLight, conv.CleaningLevel)
	// untouched fields keep their values
	assert.Equal(t, models.DefaultModelParams(), conv.ModelParams)

	w = doJSON(router, http.MethodPatch, "/api/v1/conversations/conv-1/settings", `{"window_size":50}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPatch, "/api/v1/conversations/conv-1/settings", `{"cleaning_level":"heavy"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueStatus(t *testing.T) {
	router, _ := newTestRouter(t, AuthConfig{})
	id := createTurn(t, router, "conv-1", `{"speaker":"User","text":"hello"}`)

	require.Eventually(t, func() bool {
		w := doJSON(router, http.MethodGet, "/api/v1/conversations/conv-1/queue", "")
		var m queue.Metrics
		return json.Unmarshal(w.Body.Bytes(), &m) == nil && m.ConversationProcessed == 1
	}, 5*time.Second, 10*time.Millisecond, "turn %s never processed", id)

	w := doJSON(router, http.MethodGet, "/api/v1/queue", "")
	require.Equal(t, http.StatusOK, w.Code)
	var m queue.Metrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, int64(1), m.TotalJobs)
	assert.Equal(t, 2, m.WorkerCount)

	w = doJSON(router, http.MethodGet, "/api/v1/conversations/bad!id/queue", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTurn_QueueFull(t *testing.T) {
	svc := newTestService(t, 1, 0)
	router := SetupRoutes(NewHandler(svc), AuthConfig{})

	createTurn(t, router, "conv-1", `{"speaker":"User","text":"first"}`)

	w := doJSON(router, http.MethodPost, "/api/v1/conversations/conv-1/turns", `{"speaker":"User","text":"second"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	hash, err := HashAPIKey("let-me-in")
	require.NoError(t, err)
	auth := AuthConfig{JWTSecret: "signing-secret", APIKeyHash: hash}
	router, _ := newTestRouter(t, auth)

	valid, err := GenerateToken(auth.JWTSecret, "tester", time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken(auth.JWTSecret, "tester", -time.Minute)
	require.NoError(t, err)
	foreign, err := GenerateToken("other-secret", "tester", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		path    string
		headers []string
		want    int
	}{
		{"no credentials", "/api/v1/queue", nil, http.StatusUnauthorized},
		{"api key", "/api/v1/queue", []string{APIKeyHeader, "let-me-in"}, http.StatusOK},
		{"wrong api key", "/api/v1/queue", []string{APIKeyHeader, "nope"}, http.StatusUnauthorized},
		{"bearer token", "/api/v1/queue", []string{"Authorization", "Bearer " + valid}, http.StatusOK},
		{"token query", "/api/v1/queue?token=" + valid, nil, http.StatusOK},
		{"expired token", "/api/v1/queue", []string{"Authorization", "Bearer " + expired}, http.StatusUnauthorized},
		{"foreign token", "/api/v1/queue", []string{"Authorization", "Bearer " + foreign}, http.StatusUnauthorized},
		{"health is public", "/healthz", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodGet, tt.path, "", tt.headers...)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestValidateToken(t *testing.T) {
	token, err := GenerateToken("s3cret", "alice", time.Minute)
	require.NoError(t, err)

	claims, err := ValidateToken("s3cret", token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)

	_, err = ValidateToken("other", token)
	assert.Error(t, err)

	_, err = ValidateToken("s3cret", "not-a-token")
	assert.Error(t, err)
}

func TestStreamEvents_DeliversFinishedTurns(t *testing.T) {
	router, _ := newTestRouter(t, AuthConfig{})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(srv.URL + "/api/v1/conversations/sse-conv/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "" && name != "":
				return name, data
			}
		}
	}

	name, _ := readEvent()
	require.Equal(t, "subscribed", name)

	postResp, err := client.Post(srv.URL+"/api/v1/conversations/sse-conv/turns", "application/json",
		strings.NewReader(`{"speaker":"User","text":"um hi"}`))
	require.NoError(t, err)
	postResp.Body.Close()
	require.Equal(t, http.StatusAccepted, postResp.StatusCode)

	for {
		name, data := readEvent()
		if name != "turn" {
			continue
		}
		var ev realtime.Event
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		assert.Equal(t, "sse-conv", ev.ConversationID)
		assert.Equal(t, "Hi.", ev.Turn.CleanedText)
		return
	}
}

func TestStreamEvents_RejectsBadID(t *testing.T) {
	router, _ := newTestRouter(t, AuthConfig{})
	w := doJSON(router, http.MethodGet, "/api/v1/conversations/bad!id/events", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamWebSocket_DeliversFinishedTurns(t *testing.T) {
	router, _ := newTestRouter(t, AuthConfig{})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/conversations/ws-conv/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	for _, text := range []string{"um hi", "hello hello there"} {
		resp, err := http.Post(srv.URL+"/api/v1/conversations/ws-conv/turns", "application/json",
			strings.NewReader(`{"speaker":"User","text":"`+text+`"}`))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got []string
	for len(got) < 2 {
		var ev realtime.Event
		require.NoError(t, conn.ReadJSON(&ev))
		got = append(got, ev.Turn.CleanedText)
	}
	assert.Equal(t, []string{"Hi.", "Hello there."}, got)
}

func TestStreamWebSocket_RejectsBadID(t *testing.T) {
	router, _ := newTestRouter(t, AuthConfig{})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/conversations/bad!id/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
