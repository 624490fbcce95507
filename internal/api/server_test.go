package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripsend/dripsend/internal/channel"
	"github.com/dripsend/dripsend/internal/config"
	"github.com/dripsend/dripsend/internal/dispatch"
	"github.com/dripsend/dripsend/internal/models"
	"github.com/dripsend/dripsend/internal/storage"
)

const testAPIKey = "test-key"
const testWebhookSecret = "hook-secret"

func newTestServer(t *testing.T) (*Server, storage.Storage, *channel.HTTPChannel) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })

	log := zerolog.Nop()
	gateway := channel.NewHTTPChannel(config.ChannelConfig{Timeout: time.Second})
	producer := dispatch.NewProducer(store, dispatch.NewLogNotifier(log), dispatch.SystemClock(), log)

	srv := NewServer(config.ServerConfig{
		APIKey:        testAPIKey,
		WebhookSecret: testWebhookSecret,
	}, store, producer, gateway, log)
	return srv, store, gateway
}

func doRequest(srv *Server, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestAPIRequiresAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("Authorization", "Bearer wrong-key")
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateCampaign(t *testing.T) {
	srv, store, _ := newTestServer(t)

	body := []byte(`{"name":"launch","recipients":["+15550001"],"body":"hi"}`)
	rec := doRequest(srv, http.MethodPost, "/api/v1/campaigns", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var c models.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, models.CampaignScheduled, c.Status)

	msgs, err := store.ListMessages(context.Background(), c.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestCreateCampaignRejectsInvalid(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/v1/campaigns", []byte(`{"name":"launch"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/v1/campaigns", []byte(`{not json`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCampaignWithCounts(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := []byte(`{"name":"launch","recipients":["+15550001","+15550002"],"body":"hi"}`)
	rec := doRequest(srv, http.MethodPost, "/api/v1/campaigns", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var c models.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))

	rec = doRequest(srv, http.MethodGet, "/api/v1/campaigns/"+c.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Campaign models.Campaign `json:"campaign"`
		Counts   storage.Counts  `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, c.ID, out.Campaign.ID)
	assert.Equal(t, int64(2), out.Counts.Total)
	assert.Equal(t, int64(2), out.Counts.Pending)
}

func TestGetCampaignNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/api/v1/campaigns/cmp_missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelCampaign(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := []byte(`{"name":"launch","recipients":["+15550001"],"body":"hi"}`)
	rec := doRequest(srv, http.MethodPost, "/api/v1/campaigns", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var c models.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))

	rec = doRequest(srv, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cancelled_messages":1`)

	// A second cancel conflicts.
	rec = doRequest(srv, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAckWebhookVerifiesSignature(t *testing.T) {
	srv, _, gateway := newTestServer(t)

	var received []channel.Ack
	gateway.Subscribe(func(a channel.Ack) { received = append(received, a) })

	payload := []byte(`{"message_id":"ext-1","status":"delivered"}`)
	sig, ts := channel.Sign(testWebhookSecret, payload)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/acks", bytes.NewReader(payload))
	req.Header.Set("X-Dripsend-Timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("X-Dripsend-Signature", sig)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, received, 1)
	assert.Equal(t, "ext-1", received[0].ExternalID)
	assert.Equal(t, models.AckDelivered, received[0].Level)
}

func TestAckWebhookRejectsBadSignature(t *testing.T) {
	srv, _, gateway := newTestServer(t)

	var received []channel.Ack
	gateway.Subscribe(func(a channel.Ack) { received = append(received, a) })

	payload := []byte(`{"message_id":"ext-1","status":"delivered"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/acks", bytes.NewReader(payload))
	req.Header.Set("X-Dripsend-Timestamp", "1700000000")
	req.Header.Set("X-Dripsend-Signature", "v1=forged")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, received)
}

func TestAckWebhookRequiresFields(t *testing.T) {
	srv, _, _ := newTestServer(t)

	payload := []byte(`{"message_id":"ext-1"}`)
	sig, ts := channel.Sign(testWebhookSecret, payload)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/acks", strings.NewReader(string(payload)))
	req.Header.Set("X-Dripsend-Timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("X-Dripsend-Signature", sig)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
