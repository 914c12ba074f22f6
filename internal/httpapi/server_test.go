package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"alertbot/internal/eventbus"
	"alertbot/internal/orchestrator"
	"alertbot/internal/storage"
	"alertbot/internal/transport"
	"alertbot/pkg/logx"
)

type stubClient struct {
	identity string
	events   chan transport.Event

	mu     sync.Mutex
	closed bool
}

func (c *stubClient) Initialize(ctx context.Context) error {
	c.events <- transport.Event{Kind: transport.EventReady, Identity: c.identity}
	return nil
}

func (c *stubClient) Events() <-chan transport.Event { return c.events }

func (c *stubClient) Chats(ctx context.Context) ([]transport.Chat, error) {
	return []transport.Chat{{ID: "g1", Name: "Alertas", IsGroup: true}}, nil
}

func (c *stubClient) Send(ctx context.Context, chatID, text string) error { return nil }

func (c *stubClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

type stubFactory struct{}

func (stubFactory) New(instanceID, sessionDir string) (transport.Client, error) {
	return &stubClient{identity: "@" + instanceID + "_bot", events: make(chan transport.Event, 4)}, nil
}

func newTestServer(t *testing.T, store storage.Store, token string) (*Server, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	orch := orchestrator.NewManager(context.Background(),
		orchestrator.Config{
			SessionRoot:  t.TempDir(),
			ReadyTimeout: 5 * time.Second,
			ScanInterval: time.Hour,
		},
		orchestrator.Deps{
			Store:   store,
			Factory: stubFactory{},
			Format:  func(ctx context.Context, a storage.Alert) string { return "x" },
			Bus:     bus,
			Log:     logx.Nop(),
		})

	s := New(Config{Addr: "127.0.0.1:0", Token: token}, orch, bus, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		orch.PowerOff(ctx)
		s.Stop(ctx)
	})
	return s, bus
}

func get(t *testing.T, url, token string) (*http.Response, []byte) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func post(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestHealthEmptyRegistry(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, storage.NewMemory(), "")

	resp, body := get(t, "http://"+s.Addr()+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]orchestrator.Snapshot
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("body %q: %v", body, err)
	}
	if len(out) != 0 {
		t.Errorf("health = %v", out)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, storage.NewMemory(), "s3cret")
	url := "http://" + s.Addr() + "/health"

	if resp, _ := get(t, url, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", resp.StatusCode)
	}
	if resp, _ := get(t, url, "wrong"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", resp.StatusCode)
	}
	if resp, _ := get(t, url, "s3cret"); resp.StatusCode != http.StatusOK {
		t.Errorf("good token: status = %d", resp.StatusCode)
	}
}

func TestPowerOnEndpoint(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	mem.AddDelivery(storage.Delivery{ID: 1, InstanceID: "alpha", Enabled: true})
	s, _ := newTestServer(t, mem, "")

	resp, body := post(t, "http://"+s.Addr()+"/power-on", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var out struct {
		Results []struct {
			ID       string `json:"id"`
			State    string `json:"state"`
			Identity string `json:"identity"`
			Error    string `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("body %q: %v", body, err)
	}
	if len(out.Results) != 1 {
		t.Fatalf("results = %+v", out.Results)
	}
	r := out.Results[0]
	if r.ID != "alpha" || r.State != "READY" || r.Identity != "@alpha_bot" || r.Error != "" {
		t.Errorf("result = %+v", r)
	}
}

func TestPowerOnStoreOutageIsWholesaleFailure(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	mem.Errs = func(method string) error {
		if method == "ListInstances" {
			return errors.New("disk io")
		}
		return nil
	}
	s, _ := newTestServer(t, mem, "")

	resp, _ := post(t, "http://"+s.Addr()+"/power-on", "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestSendTestValidation(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, storage.NewMemory(), "")
	url := "http://" + s.Addr() + "/send-test"

	if resp, _ := post(t, url, `{"instance": "a"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing fields: status = %d", resp.StatusCode)
	}
	resp, _ := post(t, url, `{"instance": "nope", "group": "Alertas", "text": "hola"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown instance: status = %d", resp.StatusCode)
	}
}

func TestGroupsRequiresInstanceParam(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, storage.NewMemory(), "")

	if resp, _ := get(t, "http://"+s.Addr()+"/groups", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
	resp, _ := get(t, "http://"+s.Addr()+"/groups?instance=nope", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown instance: status = %d", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()
	s, bus := newTestServer(t, storage.NewMemory(), "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+s.Addr()+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// The subscription races the request; keep publishing until a frame
	// arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				bus.Publish(eventbus.Event{Type: eventbus.TopicAlertSent, Data: map[string]any{"alert": 1}})
			}
		}
	}()

	sc := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	if eventLine != "event: "+eventbus.TopicAlertSent {
		t.Errorf("event line = %q", eventLine)
	}
	if !strings.Contains(dataLine, `"alert":1`) {
		t.Errorf("data line = %q", dataLine)
	}
}
