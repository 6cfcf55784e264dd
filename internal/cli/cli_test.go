package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHub struct {
	mu      sync.Mutex
	value   string
	last    int
	actions []string
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	q := r.URL.Query()
	switch r.URL.Path {
	case "/api/rooms":
		_, _ = w.Write([]byte(`[{"id":1,"name":"Kitchen","sectionID":2}]`))
	case "/api/scenes":
		_, _ = w.Write([]byte(`[{"id":9,"name":"Night","roomID":1}]`))
	case "/api/devices":
		dev := `{"id":12,"name":"Lamp","roomID":1,"type":"binary_light","properties":{"value":"` + h.value + `"}}`
		if q.Get("id") == "" {
			_, _ = w.Write([]byte("[" + dev + "]"))
			return
		}
		if q.Get("id") != "12" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(dev))
	case "/api/callAction":
		h.actions = append(h.actions, q.Get("deviceID")+":"+q.Get("name"))
		switch q.Get("name") {
		case "turnOn":
			h.value = "1"
		case "turnOff":
			h.value = "0"
		}
		w.WriteHeader(http.StatusAccepted)
	case "/api/refreshStates":
		h.last++
		fmt.Fprintf(w, `{"last":%d,"timestamp":1700000000,"changes":[{"id":12,"value":"%d"}]}`, h.last, h.last%2)
	case "/api/settings/info":
		_, _ = w.Write([]byte("serial=HC2-000001"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *fakeHub) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.actions...)
}

func run(t *testing.T, hub http.Handler, args ...string) (string, error) {
	t.Helper()

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	var out, errOut bytes.Buffer
	root := NewRootCommand(&out, &errOut)
	root.SetArgs(append([]string{"--host", srv.URL}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestRooms(t *testing.T) {
	out, err := run(t, &fakeHub{}, "rooms")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "Kitchen")

	out, err = run(t, &fakeHub{}, "rooms", "-o", "json")
	require.NoError(t, err)
	var rooms []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, "Kitchen", rooms[0]["name"])
}

func TestScenes(t *testing.T) {
	out, err := run(t, &fakeHub{}, "scenes")
	require.NoError(t, err)
	assert.Contains(t, out, "Night")
}

func TestDevices(t *testing.T) {
	hub := &fakeHub{value: "0"}

	out, err := run(t, hub, "devices")
	require.NoError(t, err)
	assert.Contains(t, out, "Lamp")
	assert.Contains(t, out, "binary_light")

	out, err = run(t, hub, "devices", "12", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Lamp"`)

	_, err = run(t, hub, "devices", "13")
	assert.Error(t, err)

	_, err = run(t, hub, "devices", "lamp")
	assert.ErrorContains(t, err, "invalid device id")
}

func TestSwitching(t *testing.T) {
	hub := &fakeHub{value: "0"}

	out, err := run(t, hub, "on", "12")
	require.NoError(t, err)
	assert.Equal(t, "Device 12: on\n", out)

	out, err = run(t, hub, "toggle", "12")
	require.NoError(t, err)
	assert.Equal(t, "Device 12: off\n", out)

	out, err = run(t, hub, "toggle", "12")
	require.NoError(t, err)
	assert.Equal(t, "Device 12: on\n", out)

	_, err = run(t, hub, "call", "12", "startProgram")
	require.NoError(t, err)

	assert.Equal(t, []string{"12:turnOn", "12:turnOff", "12:turnOn", "12:startProgram"}, hub.recorded())
}

func TestRaw(t *testing.T) {
	out, err := run(t, &fakeHub{}, "raw", "settings/info")
	require.NoError(t, err)
	assert.Equal(t, "serial=HC2-000001", out)

	out, err = run(t, &fakeHub{}, "raw", "devices", "id=12")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Lamp"`)

	_, err = run(t, &fakeHub{}, "raw", "devices", "id")
	assert.ErrorContains(t, err, "key=value")
}

func TestWatchStopsAfterCount(t *testing.T) {
	out, err := run(t, &fakeHub{}, "watch", "--count", "2", "--delay", "1ms")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "last=1 device=12")
	assert.Contains(t, lines[1], "last=2 device=12")
}

func TestMissingHost(t *testing.T) {
	t.Setenv("HC2_HOST", "")

	var out, errOut bytes.Buffer
	root := NewRootCommand(&out, &errOut)
	root.SetArgs([]string{"rooms"})
	assert.ErrorContains(t, root.Execute(), "no hub host")
}

func TestUnsupportedOutput(t *testing.T) {
	_, err := run(t, &fakeHub{}, "rooms", "-o", "yaml")
	assert.ErrorContains(t, err, "unsupported output format")
}
