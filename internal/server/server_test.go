package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"trackcast/internal/config"
	"trackcast/internal/metadata"
	"trackcast/internal/stream"
)

// testSource yields frames until remaining reaches zero; a negative remaining never ends.
type testSource struct {
	remaining int
}

func (s *testSource) Next() (gocv.Mat, error) {
	if s.remaining == 0 {
		return gocv.Mat{}, stream.ErrEndOfStream
	}
	if s.remaining > 0 {
		s.remaining--
	} else {
		time.Sleep(time.Millisecond)
	}
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 32, 32, gocv.MatTypeCV8UC3), nil
}

func (s *testSource) Close() error {
	return nil
}

type noopDetector struct{}

func (noopDetector) Infer(ctx context.Context, frame gocv.Mat, params stream.Params) ([]stream.Detection, error) {
	return nil, nil
}

type noopPool struct{}

func (noopPool) Acquire(ctx context.Context) (stream.Detector, func(), error) {
	return noopDetector{}, func() {}, nil
}

type testEnv struct {
	server *Server
	http   *httptest.Server
	db     *metadata.MetadataDB
}

func newTestEnv(t *testing.T, frames int, mutate func(*config.Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conf := config.DefaultConfig()
	conf.Sources = map[string]string{"demo": "demo.mp4", "lobby": "rtsp://lobby"}
	conf.DefaultSource = "demo"
	if mutate != nil {
		mutate(conf)
	}

	encoder, err := stream.NewEncoder(stream.DefaultQuality)
	require.NoError(t, err)
	streamer, err := stream.NewStreamer(stream.StreamerOptions{
		Opener: stream.SourceOpenerFunc(func(origin string) (stream.FrameSource, error) {
			return &testSource{remaining: frames}, nil
		}),
		Pool:      noopPool{},
		Annotator: stream.NewAnnotator(nil),
		Encoder:   encoder,
	})
	require.NoError(t, err)

	db, err := metadata.NewMetadataDB("", logrus.NewEntry(logrus.StandardLogger()))
	require.NoError(t, err)

	s, err := NewServer(context.Background(), conf, streamer, db)
	require.NoError(t, err)
	ts := httptest.NewServer(s.SetUpRouter())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
		ts.Close()
		db.Close()
	})
	return &testEnv{server: s, http: ts, db: db}
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + path
}

func (e *testEnv) history(t *testing.T) []*metadata.SessionRecord {
	resp, err := http.Get(e.http.URL + "/api/v1/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body ListSessionsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Items
}

func TestVideoStreamsFramesThenCloses(t *testing.T) {
	env := newTestEnv(t, 3, nil)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/video"), nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, kind)
		require.Greater(t, len(data), 2)
		assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])
	}
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)

	require.Eventually(t, func() bool { return len(env.history(t)) == 1 }, 2*time.Second, 10*time.Millisecond)
	record := env.history(t)[0]
	assert.Equal(t, "normal", record.Reason)
	assert.Equal(t, "demo", record.Source)
	assert.Equal(t, "demo.mp4", record.Origin)
	assert.Equal(t, uint64(3), record.Delivered)
	require.NotNil(t, record.LastSeq)
	assert.Equal(t, uint64(2), *record.LastSeq)
}

func TestVideoUnknownSource(t *testing.T) {
	env := newTestEnv(t, 3, nil)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/video/garage"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVideoNamedSource(t *testing.T) {
	env := newTestEnv(t, 1, nil)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/video/lobby"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(env.history(t)) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "rtsp://lobby", env.history(t)[0].Origin)
}

func TestClientDisconnectEndsSession(t *testing.T) {
	env := newTestEnv(t, -1, nil)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/video"), nil)
	require.NoError(t, err)
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)
	require.Len(t, env.server.registry.list(), 1)
	conn.Close()

	require.Eventually(t, func() bool { return len(env.server.registry.list()) == 0 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(env.history(t)) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "client_gone", env.history(t)[0].Reason)
}

func TestShutdownCancelsSessions(t *testing.T) {
	env := newTestEnv(t, -1, nil)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/video"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.server.Shutdown(ctx))

	assert.Empty(t, env.server.registry.list())
	err = <-readErr
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)

	records, err := env.db.ListSessions(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "canceled", records[0].Reason)

	// late clients are turned away right after the handshake
	late, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/video"), nil)
	require.NoError(t, err)
	defer late.Close()
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

func TestAuthGuard(t *testing.T) {
	env := newTestEnv(t, 1, func(conf *config.Config) {
		conf.JwtSecret = "secret"
	})

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/video"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged, err := IssueToken("other", "viewer", time.Hour)
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(env.wsURL("/ws/video?token="+forged), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := IssueToken("secret", "viewer", time.Hour)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/video?token="+token), nil)
	require.NoError(t, err)
	defer conn.Close()
	_, _, err = conn.ReadMessage()
	assert.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, env.http.URL+"/api/v1/sessions/active", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	apiResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	apiResp.Body.Close()
	assert.Equal(t, http.StatusOK, apiResp.StatusCode)
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	_, err := IssueToken("", "viewer", time.Hour)
	assert.Error(t, err)

	token, err := IssueToken("secret", "viewer", time.Hour)
	require.NoError(t, err)
	claims, err := parseToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "viewer", claims.Subject)

	expired, err := IssueToken("secret", "viewer", -time.Minute)
	require.NoError(t, err)
	_, err = parseToken(expired, "secret")
	assert.Error(t, err)
}

func TestListSources(t *testing.T) {
	env := newTestEnv(t, 1, nil)

	resp, err := http.Get(env.http.URL + "/api/v1/sources")
	require.NoError(t, err)
	defer resp.Body.Close()

	var sources []SourceSpec
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sources))
	assert.Equal(t, []SourceSpec{
		{Name: "demo", Origin: "demo.mp4", IsDefault: true},
		{Name: "lobby", Origin: "rtsp://lobby"},
	}, sources)
}

func TestGetSessionNotFound(t *testing.T) {
	env := newTestEnv(t, 1, nil)

	resp, err := http.Get(env.http.URL + "/api/v1/sessions/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
