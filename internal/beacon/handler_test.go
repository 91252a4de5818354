package beacon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "github.com/theburgerllc/nycayen-telemetry/internal/api/v1"
	httperr "github.com/theburgerllc/nycayen-telemetry/internal/core/errors"
	"github.com/theburgerllc/nycayen-telemetry/internal/identity"
	"github.com/theburgerllc/nycayen-telemetry/internal/kv"
	"github.com/theburgerllc/nycayen-telemetry/internal/pipeline"
)

type captureSender struct {
	mu     sync.Mutex
	events []v1.Event
}

func (c *captureSender) Send(_ context.Context, batch []v1.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, batch...)
	return nil
}

func (c *captureSender) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Name)
	}
	return out
}

func (c *captureSender) byName(name string) []v1.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []v1.Event
	for _, e := range c.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	router *gin.Engine
	pipe   *pipeline.Pipeline
	sender *captureSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx := context.Background()
	sender := &captureSender{}
	p := pipeline.New(ctx, pipeline.Config{BatchSize: 50, FlushInterval: time.Hour}, pipeline.Deps{
		Durable: kv.NewMemoryStore(),
		Sender:  sender,
	})
	p.Start(ctx)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})

	svc, err := NewService(p, 1)
	require.NoError(t, err)

	r := gin.New()
	svc.RegisterRoutes(r)
	return &fixture{router: r, pipe: p, sender: sender}
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestHandleTrack(t *testing.T) {
	tests := []struct {
		name         string
		body         interface{}
		wantStatus   int
		wantAccepted bool
	}{
		{
			name:         "registered event accepted",
			body:         TrackRequest{Name: "cta_click", Properties: map[string]interface{}{"cta_id": "book-now"}},
			wantStatus:   http.StatusAccepted,
			wantAccepted: true,
		},
		{
			name:         "unregistered event rejected without error",
			body:         TrackRequest{Name: "mystery", Properties: map[string]interface{}{}},
			wantStatus:   http.StatusAccepted,
			wantAccepted: false,
		},
		{
			name:         "schema violation rejected without error",
			body:         TrackRequest{Name: "cta_click", Properties: map[string]interface{}{"cta_id": 7}},
			wantStatus:   http.StatusAccepted,
			wantAccepted: false,
		},
		{
			name:       "missing name",
			body:       `{"properties": {}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed json",
			body:       `{"name": `,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			resp := f.do(http.MethodPost, "/v1/track", tc.body)
			require.Equal(t, tc.wantStatus, resp.Code)
			if tc.wantStatus == http.StatusAccepted {
				assert.Equal(t, tc.wantAccepted, decode[TrackResponse](t, resp).Accepted)
			} else {
				assert.Equal(t, httperr.HttpInvalidRequestError, decode[httperr.ErrorResponse](t, resp).ErrorType)
			}
		})
	}
}

func TestHandleTrack_DeliveredOnPageHide(t *testing.T) {
	f := newFixture(t)

	resp := f.do(http.MethodPost, "/v1/track", TrackRequest{
		Name:       "search",
		Properties: map[string]interface{}{"query": "silk press", "results": 3},
	})
	require.Equal(t, http.StatusAccepted, resp.Code)

	resp = f.do(http.MethodPost, "/v1/pagehide", nil)
	require.Equal(t, http.StatusAccepted, resp.Code)
	out := decode[PageHideResponse](t, resp)
	assert.True(t, out.Flushed)
	assert.Equal(t, 0, out.Pending)
	assert.Equal(t, []string{"search"}, f.sender.names())
}

func TestHandleVariant(t *testing.T) {
	f := newFixture(t)
	req := VariantRequest{TestName: "hero_copy", Variants: []string{"A", "B"}, Weights: []float64{0.5, 0.5}}

	first := decode[VariantResponse](t, f.do(http.MethodPost, "/v1/variant", req))
	require.Contains(t, []string{"A", "B"}, first.Variant)
	assert.Equal(t, "hero_copy", first.TestName)

	// cached decision wins even if the caller now offers different variants
	req.Variants = []string{"C"}
	second := decode[VariantResponse](t, f.do(http.MethodPost, "/v1/variant", req))
	assert.Equal(t, first.Variant, second.Variant)

	assignments := decode[map[string]json.RawMessage](t, f.do(http.MethodGet, "/v1/assignments", nil))
	assert.Len(t, assignments, 1)

	resp := f.do(http.MethodPost, "/v1/variant", `{"variants": ["A"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleNavigateAndTouchpoints(t *testing.T) {
	f := newFixture(t)

	resp := f.do(http.MethodPost, "/v1/navigate", NavigateRequest{
		URL:   "https://nycayen.com/services?utm_source=Newsletter&utm_medium=email&utm_campaign=spring",
		Title: "Services",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	nav := decode[NavigateResponse](t, resp)
	require.True(t, nav.Captured)
	require.NotNil(t, nav.Touchpoint)
	assert.Equal(t, "newsletter", nav.Touchpoint.Source)
	assert.Equal(t, "email", nav.Touchpoint.Medium)

	// internal navigation captures nothing
	resp = f.do(http.MethodPost, "/v1/navigate", NavigateRequest{
		URL:      "https://nycayen.com/book",
		Referrer: "https://nycayen.com/services",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, decode[NavigateResponse](t, resp).Captured)

	tps := decode[TouchpointsResponse](t, f.do(http.MethodGet, "/v1/touchpoints", nil))
	assert.Equal(t, 30, tps.WindowDays)
	require.Len(t, tps.Touchpoints, 1)
	assert.Equal(t, "spring", tps.Touchpoints[0].Campaign)

	tps = decode[TouchpointsResponse](t, f.do(http.MethodGet, "/v1/touchpoints?window_days=7", nil))
	assert.Equal(t, 7, tps.WindowDays)
	assert.Len(t, tps.Touchpoints, 1)

	require.NoError(t, f.pipe.Flush(context.Background()))
	assert.Len(t, f.sender.byName("page_view"), 2)
	assert.Len(t, f.sender.byName("touchpoint_captured"), 1)
}

func TestHandleTouchpoints_InvalidQuery(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{"window_days=-1", "window_days=abc"} {
		resp := f.do(http.MethodGet, "/v1/touchpoints?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.Code, q)
	}
}

func TestHandleVitals(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantStatus   int
		wantRecorded int
		wantSkipped  int
	}{
		{
			name:         "single measurement",
			body:         `{"name": "lcp", "value": 1200, "id": "v1-1"}`,
			wantStatus:   http.StatusAccepted,
			wantRecorded: 1,
		},
		{
			name:         "list with unknown metric",
			body:         `{"measurements": [{"name": "CLS", "value": 0.3}, {"name": "FOO", "value": 1}]}`,
			wantStatus:   http.StatusAccepted,
			wantRecorded: 1,
			wantSkipped:  1,
		},
		{
			name:       "only invalid values",
			body:       `{"measurements": [{"name": "INP", "value": -5}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing name",
			body:       `{"value": 10}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			resp := f.do(http.MethodPost, "/v1/vitals", tc.body)
			require.Equal(t, tc.wantStatus, resp.Code)
			if tc.wantStatus != http.StatusAccepted {
				return
			}
			out := decode[VitalsResponse](t, resp)
			assert.Equal(t, tc.wantRecorded, out.Recorded)
			assert.Equal(t, tc.wantSkipped, out.Skipped)

			require.NoError(t, f.pipe.Flush(context.Background()))
			assert.Len(t, f.sender.byName("web_vital"), tc.wantRecorded)
		})
	}
}

func TestHandleVitals_RatingInEvent(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodPost, "/v1/vitals", `{"name": "TTFB", "value": 2000}`)
	require.Equal(t, http.StatusAccepted, resp.Code)

	require.NoError(t, f.pipe.Flush(context.Background()))
	vitalsSent := f.sender.byName("web_vital")
	require.Len(t, vitalsSent, 1)
	assert.Equal(t, "poor", vitalsSent[0].Properties["rating"])
	assert.Equal(t, "TTFB", vitalsSent[0].Properties["metric"])
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t)
	big := `{"name": "search", "properties": {"query": "` + strings.Repeat("x", 2*1024*1024) + `"}}`

	resp := f.do(http.MethodPost, "/v1/track", big)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
	assert.Equal(t, httperr.HttpPayloadTooLargeError, decode[httperr.ErrorResponse](t, resp).ErrorType)

	resp = f.do(http.MethodPost, "/v1/vitals", big)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
}

func TestHandleIdentityAndStats(t *testing.T) {
	f := newFixture(t)

	id := decode[identity.Identity](t, f.do(http.MethodGet, "/v1/identity", nil))
	assert.Equal(t, f.pipe.Identity(), id)
	assert.NotEmpty(t, id.VisitorID)

	f.do(http.MethodPost, "/v1/track", TrackRequest{Name: "cta_click", Properties: map[string]interface{}{"cta_id": "x"}})
	stats := decode[map[string]interface{}](t, f.do(http.MethodGet, "/v1/stats", nil))
	assert.Equal(t, float64(1), stats["tracked"])
}

func TestNewService_RequiresPipeline(t *testing.T) {
	_, err := NewService(nil, 1)
	require.Error(t, err)
}

func TestHandleTrack_CallersShareOneIdentity(t *testing.T) {
	f := newFixture(t)

	for _, cta := range []string{"hero", "footer"} {
		resp := f.do(http.MethodPost, "/v1/track", TrackRequest{Name: "cta_click", Properties: map[string]interface{}{"cta_id": cta}})
		require.Equal(t, http.StatusAccepted, resp.Code)
	}
	require.NoError(t, f.pipe.Flush(context.Background()))

	clicks := f.sender.byName("cta_click")
	require.Len(t, clicks, 2)
	id := f.pipe.Identity()
	for _, ev := range clicks {
		assert.Equal(t, id.VisitorID, ev.VisitorID)
		assert.Equal(t, id.SessionID, ev.SessionID)
	}
}
