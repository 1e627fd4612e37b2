package bridge

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "github.com/PentesterFlow/WebviewBridge/internal/errors"
)

// fakeHost stands in for the browser host. Each endpoint replies with the
// configured status and body and records the query it received.
type fakeHost struct {
	mu      sync.Mutex
	replies map[string]reply
	queries map[string]url.Values
	calls   int32
}

type reply struct {
	status int
	body   string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		replies: make(map[string]reply),
		queries: make(map[string]url.Values),
	}
}

func (h *fakeHost) on(path string, status int, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replies[path] = reply{status: status, body: body}
}

func (h *fakeHost) query(path string) url.Values {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queries[path]
}

func (h *fakeHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&h.calls, 1)

	h.mu.Lock()
	h.queries[r.URL.Path] = r.URL.Query()
	rep, ok := h.replies[r.URL.Path]
	h.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":"Not Found"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rep.status)
	w.Write([]byte(rep.body))
}

func testConfig(t *testing.T, rawURL string) *Config {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return &Config{
		ServerPort: port,
		Host:       host,
		Sessions:   []Session{{ID: "main"}, {ID: "side"}},
		Timeouts:   map[string]int{},
	}
}

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(testConfig(t, server.URL), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// New Tests
// =============================================================================

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{ServerPort: 9000})
	assert.Error(t, err)
}

func TestNew_OptionError(t *testing.T) {
	_, err := New(&Config{ServerPort: 9000, Sessions: []Session{{ID: "main"}}}, WithLogger(nil))
	assert.Error(t, err)
}

func TestClient_DefaultSessionAndBudget(t *testing.T) {
	client, err := New(&Config{ServerPort: 9000, Sessions: []Session{{ID: "main"}}})
	require.NoError(t, err)

	assert.Equal(t, "main", client.DefaultSession())
	assert.Equal(t, 95*time.Second, client.Budget(Navigation).Client)
	assert.Equal(t, 10*time.Second, client.Budget(Navigation, WithTimeout(5*time.Second)).Client)
}

// =============================================================================
// Navigate Tests
// =============================================================================

func TestNavigate_Success(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointNavigate, 200, `{"success":true,"loadedUrl":"https://example.com/cats?filter=x"}`)
	client := newTestClient(t, host)

	loaded, err := client.Navigate(context.Background(), "main", "https://example.com/cats?filter=x")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cats?filter=x", loaded)

	q := host.query(EndpointNavigate)
	assert.Equal(t, "main", q.Get("id"))
	assert.Equal(t, "90", q.Get("timeout"))

	// the url parameter is percent-encoded once more on top of the query encoding
	assert.Equal(t, "https%3A%2F%2Fexample.com%2Fcats%3Ffilter%3Dx", q.Get("url"))
	decoded, err := url.QueryUnescape(q.Get("url"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cats?filter=x", decoded)
}

func TestNavigate_EncodesSpacesAsPercent20(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointNavigate, 200, `{"success":true,"loadedUrl":"x"}`)
	client := newTestClient(t, host)

	_, err := client.Navigate(context.Background(), "main", "https://example.com/a b")
	require.NoError(t, err)
	assert.Equal(t, "https%3A%2F%2Fexample.com%2Fa%20b", host.query(EndpointNavigate).Get("url"))
}

func TestNavigate_TimeoutOverride(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointNavigate, 200, `{"success":true,"loadedUrl":"x"}`)
	client := newTestClient(t, host)

	_, err := client.Navigate(context.Background(), "main", "https://example.com", WithTimeout(12*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "12", host.query(EndpointNavigate).Get("timeout"))
}

func TestNavigate_RemoteReportedFailure(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointNavigate, 200, `{"success":false,"error":"ERR_NAME_NOT_RESOLVED"}`)
	client := newTestClient(t, host)

	_, err := client.Navigate(context.Background(), "main", "https://nowhere.invalid")
	require.Error(t, err)

	assert.True(t, bridgeerrors.Is(err, bridgeerrors.RemoteReported))
	assert.Contains(t, err.Error(), "ERR_NAME_NOT_RESOLVED")

	var bridgeErr *bridgeerrors.BridgeError
	require.ErrorAs(t, err, &bridgeErr)
	assert.Equal(t, "main", bridgeErr.Session)
	assert.Equal(t, "ERR_NAME_NOT_RESOLVED", bridgeErr.Message)
}

func TestNavigate_MissingSuccessField(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointNavigate, 200, `{"loadedUrl":"https://example.com"}`)
	client := newTestClient(t, host)

	_, err := client.Navigate(context.Background(), "main", "https://example.com")
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.RemoteReported))
}

func TestNavigate_MissingLoadedURL(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointNavigate, 200, `{"success":true}`)
	client := newTestClient(t, host)

	_, err := client.Navigate(context.Background(), "main", "https://example.com")
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.ShapeValidation))
}

func TestNavigate_RemoteHTTPError(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointNavigate, 500, `{"success":false,"error":"Navigation timeout of 90000 ms exceeded"}`)
	client := newTestClient(t, host)

	_, err := client.Navigate(context.Background(), "main", "https://example.com")
	require.Error(t, err)
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.RemoteHTTP))
	assert.Equal(t, 500, bridgeerrors.GetStatusCode(err))
}

func TestNavigate_InvalidArguments(t *testing.T) {
	host := newFakeHost()
	client := newTestClient(t, host)

	_, err := client.Navigate(context.Background(), "main", "")
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.InvalidArgument))

	_, err = client.Navigate(context.Background(), "", "https://example.com")
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.InvalidArgument))

	_, err = client.Navigate(context.Background(), "ghost", "https://example.com")
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.InvalidArgument))

	assert.Equal(t, int32(0), atomic.LoadInt32(&host.calls))
}

// =============================================================================
// ExtractListData Tests
// =============================================================================

func TestExtractListData_Success(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointListExtract, 200, `{"success":true,"data":[{"title":"A"},{"title":"B"}]}`)
	client := newTestClient(t, host)

	items, err := client.ExtractListData(context.Background(), "main", 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.JSONEq(t, `{"title":"A"}`, string(items[0]))

	q := host.query(EndpointListExtract)
	assert.Equal(t, "main", q.Get("id"))
	assert.Equal(t, "75", q.Get("exec_timeout"))
}

func TestExtractListData_EmptyList(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointListExtract, 200, `{"success":true,"data":[]}`)
	client := newTestClient(t, host)

	items, err := client.ExtractListData(context.Background(), "main", 0)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestExtractListData_WrongShape(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"object", `{"success":true,"data":{"title":"A"}}`},
		{"null", `{"success":true,"data":null}`},
		{"string", `{"success":true,"data":"[]"}`},
		{"missing", `{"success":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost()
			host.on(EndpointListExtract, 200, tt.body)
			client := newTestClient(t, host)

			items, err := client.ExtractListData(context.Background(), "main", 0)
			assert.Nil(t, items)
			assert.True(t, bridgeerrors.Is(err, bridgeerrors.ShapeValidation), "got %v", err)
		})
	}
}

func TestExtractListData_WaitsBeforeRequest(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointListExtract, 200, `{"success":true,"data":[]}`)
	client := newTestClient(t, host)

	start := time.Now()
	_, err := client.ExtractListData(context.Background(), "main", 150*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestExtractListData_CancelledDuringWait(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointListExtract, 200, `{"success":true,"data":[]}`)
	client := newTestClient(t, host)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.ExtractListData(ctx, "main", 10*time.Second)
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.Cancelled))
	assert.Equal(t, int32(0), atomic.LoadInt32(&host.calls))
}

// =============================================================================
// ExtractDetails Tests
// =============================================================================

func TestExtractDetails_Success(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointDetailExtract, 200,
		`{"success":true,"details":{"title":"Dune","isbn":"123"},"prices":{"amazon":"9.99"}}`)
	client := newTestClient(t, host)

	result, err := client.ExtractDetails(context.Background(), "main")
	require.NoError(t, err)

	assert.JSONEq(t, `"Dune"`, string(result.Details["title"]))
	assert.JSONEq(t, `"9.99"`, string(result.Prices["amazon"]))
	assert.Equal(t, "45", host.query(EndpointDetailExtract).Get("exec_timeout"))
}

func TestExtractDetails_FallsBackToExtractionTimeout(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointDetailExtract, 200, `{"success":true,"details":{},"prices":{}}`)
	server := httptest.NewServer(host)
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.Timeouts = map[string]int{TimeoutKeyExtraction: 30000}
	client, err := New(cfg)
	require.NoError(t, err)

	_, err = client.ExtractDetails(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, "30", host.query(EndpointDetailExtract).Get("exec_timeout"))
}

func TestExtractDetails_RequiresBothParts(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing prices", `{"success":true,"details":{"title":"Dune"}}`},
		{"missing details", `{"success":true,"prices":{"amazon":"9.99"}}`},
		{"prices is a list", `{"success":true,"details":{},"prices":[]}`},
		{"details is null", `{"success":true,"details":null,"prices":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost()
			host.on(EndpointDetailExtract, 200, tt.body)
			client := newTestClient(t, host)

			result, err := client.ExtractDetails(context.Background(), "main")
			assert.Nil(t, result)
			assert.True(t, bridgeerrors.Is(err, bridgeerrors.ShapeValidation), "got %v", err)
		})
	}
}

func TestExtractDetails_MalformedBody(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointDetailExtract, 200, `<html>oops</html>`)
	client := newTestClient(t, host)

	_, err := client.ExtractDetails(context.Background(), "main")
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.MalformedBody))
}

// =============================================================================
// End-to-end Tests
// =============================================================================

func TestEndToEnd_NavigateAgainstLoadedConfig(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointNavigate, 200, `{"success":true,"loadedUrl":"https://example.com/cats?filter=x"}`)
	server := httptest.NewServer(host)
	defer server.Close()

	u, _ := url.Parse(server.URL)
	hostname, port, _ := net.SplitHostPort(u.Host)
	path := writeConfig(t, "config.json",
		`{"electronServerPort": `+port+`, "host": "`+hostname+`", "webviews": [{"id": "main"}]}`)

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	client, err := New(cfg)
	require.NoError(t, err)

	loaded, err := client.Navigate(context.Background(), cfg.DefaultSession().ID, "https://example.com/cats?filter=x")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cats?filter=x", loaded)
}

func TestEndToEnd_UnreachableHost(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()

	p, _ := strconv.Atoi(port)
	client, err := New(&Config{ServerPort: p, Host: "127.0.0.1", Sessions: []Session{{ID: "main"}}})
	require.NoError(t, err)

	budget := client.Budget(Navigation, WithTimeout(2*time.Second))
	start := time.Now()
	_, err = client.Navigate(context.Background(), "main", "https://example.com/cats?filter=x", WithTimeout(2*time.Second))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.Connection), "got %v", err)
	assert.Less(t, elapsed, budget.Client+time.Second)
}

// =============================================================================
// Boundary Tests
// =============================================================================

type panicTransport struct{}

func (panicTransport) RoundTrip(*http.Request) (*http.Response, error) {
	panic("round tripper exploded")
}

func TestClient_RecoversPanics(t *testing.T) {
	client, err := New(&Config{ServerPort: 9000, Sessions: []Session{{ID: "main"}}},
		WithHTTPClient(&http.Client{Transport: panicTransport{}}))
	require.NoError(t, err)

	_, err = client.Navigate(context.Background(), "main", "https://example.com")
	require.Error(t, err)
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.Internal))

	// the session lock was released despite the panic
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = client.Navigate(ctx, "main", "https://example.com")
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.Internal))
}

func TestClient_ObserverSeesEveryCommand(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointNavigate, 200, `{"success":true,"loadedUrl":"https://example.com"}`)
	host.on(EndpointListExtract, 200, `{"success":true,"data":{}}`)

	var mu sync.Mutex
	var records []CommandRecord
	observer := ObserverFunc(func(rec CommandRecord) {
		mu.Lock()
		defer mu.Unlock()
		records = append(records, rec)
	})

	client := newTestClient(t, host, WithObserver(observer))

	_, err := client.Navigate(context.Background(), "main", "https://example.com")
	require.NoError(t, err)
	_, err = client.ExtractListData(context.Background(), "main", 0)
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, records, 2)

	assert.Equal(t, CommandNavigate, records[0].Command)
	assert.True(t, records[0].Succeeded())
	assert.Equal(t, 200, records[0].StatusCode)
	assert.Equal(t, "https://example.com", records[0].Target)
	assert.NotEmpty(t, records[0].ID)

	assert.Equal(t, CommandListExtract, records[1].Command)
	assert.Equal(t, "shape_validation", records[1].Outcome)
	assert.NotEqual(t, records[0].ID, records[1].ID)
}

func TestClient_SerializesSameSession(t *testing.T) {
	var inFlight, maxInFlight int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(`{"success":true,"loadedUrl":"x"}`))
	})
	client := newTestClient(t, handler)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Navigate(context.Background(), "main", "https://example.com")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestClient_ExclusiveIsReentrant(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointNavigate, 200, `{"success":true,"loadedUrl":"https://example.com"}`)
	host.on(EndpointListExtract, 200, `{"success":true,"data":[1]}`)
	client := newTestClient(t, host)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var items []ListItem
	err := client.Exclusive(ctx, "main", func(ctx context.Context) error {
		if _, err := client.Navigate(ctx, "main", "https://example.com"); err != nil {
			return err
		}
		var err error
		items, err = client.ExtractListData(ctx, "main", 0)
		return err
	})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestClient_ExclusiveBlocksOtherCallers(t *testing.T) {
	host := newFakeHost()
	host.on(EndpointNavigate, 200, `{"success":true,"loadedUrl":"x"}`)
	client := newTestClient(t, host)

	entered := make(chan struct{})
	done := make(chan struct{})
	go func() {
		client.Exclusive(context.Background(), "main", func(ctx context.Context) error {
			close(entered)
			<-done
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Navigate(ctx, "main", "https://example.com")
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.Cancelled), "got %v", err)

	// other sessions are unaffected
	_, err = client.Navigate(context.Background(), "side", "https://example.com")
	assert.NoError(t, err)

	close(done)
}

func TestPause(t *testing.T) {
	assert.NoError(t, Pause(context.Background(), 0))
	assert.NoError(t, Pause(context.Background(), 10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, bridgeerrors.Is(Pause(ctx, time.Second), bridgeerrors.Cancelled))
}
