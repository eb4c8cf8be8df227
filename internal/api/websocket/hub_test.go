package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/akmukhi/developer-self-service/internal/k8s"
	"github.com/akmukhi/developer-self-service/internal/models"
	"github.com/akmukhi/developer-self-service/internal/service"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(context.Background(), quietLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func TestHubClientRegistration(t *testing.T) {
	hub := startHub(t)
	assert.Equal(t, 0, hub.GetClientCount())

	client := &Client{send: make(chan []byte, 256)}
	hub.Register(client)
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Unregister(client)
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-client.send
	assert.False(t, open, "unregister closes the send channel")
}

func TestHubEnvironmentChanged_Broadcasts(t *testing.T) {
	hub := startHub(t)
	a := &Client{send: make(chan []byte, 4)}
	b := &Client{send: make(chan []byte, 4)}
	hub.Register(a)
	hub.Register(b)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.EnvironmentChanged(models.EnvironmentEvent{
		Type:        models.EnvironmentDeletedEvent,
		Reason:      "namespace_missing",
		Environment: &models.Environment{ID: "env-1", Namespace: "feature-x-env1"},
		Timestamp:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	})

	for _, c := range []*Client{a, b} {
		select {
		case data := <-c.send:
			var msg EventMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			assert.Equal(t, "environment", msg.Type)
			assert.Equal(t, models.EnvironmentDeletedEvent, msg.Event)
			assert.Equal(t, "namespace_missing", msg.Reason)
			assert.Equal(t, "env-1", msg.Environment.ID)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := startHub(t)
	slow := &Client{send: make(chan []byte)}
	hub.Register(slow)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.EnvironmentChanged(models.EnvironmentEvent{Type: models.EnvironmentCreatedEvent})
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubEnvironmentChanged_NeverBlocks(t *testing.T) {
	// Not running: nothing drains the broadcast buffer.
	hub := NewHub(context.Background(), quietLogger())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.EnvironmentChanged(models.EnvironmentEvent{Type: models.EnvironmentCreatedEvent})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("EnvironmentChanged blocked")
	}
}

func TestHubStop_ClosesClients(t *testing.T) {
	hub := NewHub(context.Background(), quietLogger())
	go hub.Run()

	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = &Client{send: make(chan []byte, 1)}
		hub.Register(clients[i])
	}
	require.Eventually(t, func() bool { return hub.GetClientCount() == 3 }, time.Second, 5*time.Millisecond)

	hub.Stop()
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 5*time.Millisecond)
	hub.Register(&Client{send: make(chan []byte)})
	hub.Unregister(clients[0])
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000"})
	req := httptest.NewRequest(http.MethodGet, "/ws/environments", nil)
	assert.True(t, check(req), "no origin")
	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(req))
	req.Header.Set("Origin", "http://evil.test")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestServeEvents_DeliversEnvironmentEvents(t *testing.T) {
	hub := startHub(t)
	h := NewHandler(context.Background(), hub, nil, nil, quietLogger())
	router := mux.NewRouter()
	SetupRoutes(router, h)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/environments"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.EnvironmentChanged(models.EnvironmentEvent{
		Type:        models.EnvironmentCreatedEvent,
		Environment: &models.Environment{ID: "env-2", Name: "demo"},
		Timestamp:   time.Now(),
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg EventMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, models.EnvironmentCreatedEvent, msg.Event)
	assert.Equal(t, "demo", msg.Environment.Name)
}

func logStreamServer(t *testing.T, objects ...*corev1.Pod) *httptest.Server {
	t.Helper()
	cs := fake.NewSimpleClientset()
	for _, p := range objects {
		_, err := cs.CoreV1().Pods(p.Namespace).Create(context.Background(), p, metav1.CreateOptions{})
		require.NoError(t, err)
	}
	logs := service.NewLogsService(k8s.NewClientForTest(cs, nil), quietLogger())
	h := NewHandler(context.Background(), startHub(t), logs, []string{"http://localhost:3000"}, quietLogger())
	router := mux.NewRouter()
	SetupRoutes(router, h)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func readyPod(ns, name, app string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Labels: map[string]string{"app": app}},
		Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: app}}},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
		},
	}
}

func TestServeLogStream_StreamsThenEnds(t *testing.T) {
	srv := logStreamServer(t, readyPod("default", "api-7d9f", "api"))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/logs/api/stream"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first LogMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "log", first.Type)
	assert.Equal(t, "api-7d9f", first.Pod)
	assert.Equal(t, "fake logs", first.Line)

	var last LogMessage
	require.NoError(t, conn.ReadJSON(&last))
	assert.Equal(t, "end", last.Type)
}

func TestServeLogStream_ErrorsBeforeUpgrade(t *testing.T) {
	srv := logStreamServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/logs/api/stream"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "/api/logs/api/stream?lines=zero"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServeLogStream_RejectsForeignOrigin(t *testing.T) {
	srv := logStreamServer(t, readyPod("default", "api-7d9f", "api"))

	header := http.Header{"Origin": []string{"http://evil.test"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/logs/api/stream"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
