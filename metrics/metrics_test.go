package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenedClosed(t *testing.T) {
	m := New()

	m.Opened()
	m.Opened()
	m.Closed(1000)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionsOpened))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsClosed.WithLabelValues("1000")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionsClosed.WithLabelValues("1007")))
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.MessagesReceived.Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ws_messages_received_total 1")
	assert.Contains(t, string(body), "ws_active_connections 0")
}
