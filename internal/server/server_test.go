package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muurk/miiobridge/internal/coordinator"
	"github.com/muurk/miiobridge/internal/descriptor"
	"github.com/muurk/miiobridge/internal/entity"
	"github.com/muurk/miiobridge/internal/miio"
)

type staticFetcher struct {
	status miio.Status
	err    error
}

func (f *staticFetcher) Status(context.Context) (miio.Status, error) {
	return f.status, f.err
}

type recordingController struct {
	mu      sync.Mutex
	sets    map[string]any
	actions []string
	err     error
}

func (c *recordingController) SetProperty(_ context.Context, id string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.sets == nil {
		c.sets = make(map[string]any)
	}
	c.sets[id] = value
	return nil
}

func (c *recordingController) CallAction(_ context.Context, id string, _ ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.actions = append(c.actions, id)
	return nil
}

func testEntities() []*entity.Entity {
	coll := descriptor.NewCollection("zhimi.airpurifier.mb3")
	coll.DeviceType = "air_monitor"
	coll.AddProperty(&descriptor.Property{
		ID: "led", SIID: 6, PIID: 1,
		Format: descriptor.FormatBool,
		Access: descriptor.AccessRead | descriptor.AccessWrite,
	})
	return entity.Build("120009025", coll)
}

func newTestServer(t *testing.T, ctrl Controller) (*Server, *httptest.Server, *coordinator.Coordinator) {
	t.Helper()
	s := New(&Config{Addr: "127.0.0.1:0"})
	coord := coordinator.New("120009025", "zhimi.airpurifier.mb3",
		&staticFetcher{status: miio.Status{"led": true}}, coordinator.Config{})
	coord.RefreshNow(context.Background())

	if err := s.AddDevice("120009025", "Living Room Purifier", "192.168.4.16",
		"zhimi.airpurifier.mb3", testEntities(), coord, ctrl); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}

	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts, coord
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	_, ts, _ := newTestServer(t, &recordingController{})

	var body map[string]string
	if code := getJSON(t, ts.URL+"/healthz", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestListDevices(t *testing.T) {
	_, ts, _ := newTestServer(t, &recordingController{})

	var devices []deviceSummary
	if code := getJSON(t, ts.URL+"/api/devices", &devices); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(devices) != 1 {
		t.Fatalf("devices = %v", devices)
	}
	d := devices[0]
	if d.ID != "120009025" || d.Model != "zhimi.airpurifier.mb3" || !d.Available {
		t.Errorf("device = %+v", d)
	}
}

func TestGetDevice(t *testing.T) {
	_, ts, _ := newTestServer(t, &recordingController{})

	var detail deviceDetail
	if code := getJSON(t, ts.URL+"/api/devices/120009025", &detail); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(detail.Entities) != 1 || detail.Entities[0].Platform != "switch" {
		t.Errorf("entities = %+v", detail.Entities)
	}

	if code := getJSON(t, ts.URL+"/api/devices/nope", nil); code != http.StatusNotFound {
		t.Errorf("unknown device status = %d", code)
	}
}

func TestGetStatus(t *testing.T) {
	_, ts, _ := newTestServer(t, &recordingController{})

	var body struct {
		Available bool           `json:"available"`
		Status    map[string]any `json:"status"`
	}
	if code := getJSON(t, ts.URL+"/api/devices/120009025/status", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !body.Available {
		t.Error("device should be available")
	}
	if body.Status["led"] != true {
		t.Errorf("status = %v", body.Status)
	}
}

func TestSetSetting(t *testing.T) {
	ctrl := &recordingController{}
	_, ts, _ := newTestServer(t, ctrl)

	resp, err := http.Post(ts.URL+"/api/devices/120009025/settings/led",
		"application/json", bytes.NewBufferString(`{"value": true}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.sets["led"] != true {
		t.Errorf("sets = %v", ctrl.sets)
	}
}

func TestSetSettingNormalizesIntegers(t *testing.T) {
	ctrl := &recordingController{}
	_, ts, _ := newTestServer(t, ctrl)

	resp, err := http.Post(ts.URL+"/api/devices/120009025/settings/fan_level",
		"application/json", bytes.NewBufferString(`{"value": 2}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if got, ok := ctrl.sets["fan_level"].(int64); !ok || got != 2 {
		t.Errorf("fan_level = %v (%T), want int64(2)", ctrl.sets["fan_level"], ctrl.sets["fan_level"])
	}
}

func TestCallAction(t *testing.T) {
	ctrl := &recordingController{}
	_, ts, _ := newTestServer(t, ctrl)

	resp, err := http.Post(ts.URL+"/api/devices/120009025/actions/reset_filter",
		"application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.actions) != 1 || ctrl.actions[0] != "reset_filter" {
		t.Errorf("actions = %v", ctrl.actions)
	}
}

func TestCommandErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{
			name:     "device error maps to bad gateway",
			err:      &miio.DeviceError{Type: miio.ErrTypeTimeout, Message: "no answer"},
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "validation error maps to bad request",
			err:      errors.New("property led is read-only"),
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &recordingController{err: tt.err}
			_, ts, _ := newTestServer(t, ctrl)

			resp, err := http.Post(ts.URL+"/api/devices/120009025/settings/led",
				"application/json", bytes.NewBufferString(`{"value": true}`))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts, coord := newTestServer(t, &recordingController{})
	coord.RefreshNow(context.Background())
	// Give the update goroutine a moment to feed the collectors.
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	text := string(body)
	if !strings.Contains(text, "miiobridge_polls_total") {
		t.Error("missing polls_total metric")
	}
	if !strings.Contains(text, `miiobridge_device_available{device="120009025"} 1`) {
		t.Errorf("missing availability metric:\n%s", text)
	}
	if !strings.Contains(text, `miiobridge_poll_duration_seconds_count{device="120009025"}`) {
		t.Error("missing poll duration histogram")
	}
}

func TestWebSocketStream(t *testing.T) {
	_, ts, coord := newTestServer(t, &recordingController{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Trigger an update after the client is connected.
	time.Sleep(20 * time.Millisecond)
	coord.RefreshNow(context.Background())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsUpdate
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.DeviceID != "120009025" || !msg.Available {
		t.Errorf("msg = %+v", msg)
	}
}

func TestRemoveDevice(t *testing.T) {
	s, ts, _ := newTestServer(t, &recordingController{})

	s.RemoveDevice("120009025")
	if code := getJSON(t, ts.URL+"/api/devices/120009025", nil); code != http.StatusNotFound {
		t.Errorf("status after removal = %d", code)
	}
}
