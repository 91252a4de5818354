package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/theburgerllc/nycayen-telemetry/internal/api/v1"
)

func TestHTTPSender_PostsJSONBatch(t *testing.T) {
	var got v1.Batch
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender, err := NewHTTPSender(srv.URL, HTTPSenderOptions{
		Headers: map[string]string{"X-Site": "nycayen"},
	})
	require.NoError(t, err)

	events := []v1.Event{newEvent(1), newEvent(2)}
	require.NoError(t, sender.Send(context.Background(), events))

	require.Len(t, got.Events, 2)
	assert.Equal(t, events[0].ID, got.Events[0].ID)
	assert.Equal(t, "cta-2", got.Events[1].Properties["cta_id"])
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "nycayen", headers.Get("X-Site"))
	assert.Empty(t, headers.Get("Content-Encoding"))
}

func TestHTTPSender_Zstd(t *testing.T) {
	var got v1.Batch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "zstd", r.Header.Get("Content-Encoding"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		dec, err := zstd.NewReader(nil)
		require.NoError(t, err)
		defer dec.Close()
		plain, err := dec.DecodeAll(raw, nil)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(plain, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender, err := NewHTTPSender(srv.URL, HTTPSenderOptions{Compression: CompressionZstd})
	require.NoError(t, err)
	require.NoError(t, sender.Send(context.Background(), []v1.Event{newEvent(1)}))
	assert.Len(t, got.Events, 1)
}

func TestHTTPSender_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender, err := NewHTTPSender(srv.URL, HTTPSenderOptions{})
	require.NoError(t, err)

	err = sender.Send(context.Background(), []v1.Event{newEvent(1)})
	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, http.StatusBadGateway, derr.StatusCode)

	closed := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := closed.URL
	closed.Close()

	unreachable, err := NewHTTPSender(url, HTTPSenderOptions{Timeout: time.Second})
	require.NoError(t, err)
	err = unreachable.Send(context.Background(), []v1.Event{newEvent(1)})
	require.ErrorAs(t, err, &derr)
	assert.Zero(t, derr.StatusCode)
	assert.Error(t, derr.Unwrap())
}

func TestNewHTTPSender_RequiresEndpoint(t *testing.T) {
	_, err := NewHTTPSender("", HTTPSenderOptions{})
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)

	c, err = ParseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)

	_, err = ParseCompression("brotli")
	assert.Error(t, err)
}

func TestMultiSender(t *testing.T) {
	ok := &fakeSender{}
	down := &fakeSender{failures: 1}
	events := []v1.Event{newEvent(1)}

	err := MultiSender{ok, down}.Send(context.Background(), events)
	assert.Error(t, err)

	require.NoError(t, MultiSender{ok, down}.Send(context.Background(), events))
	assert.Len(t, down.batches(), 1)
}
