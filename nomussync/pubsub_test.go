package nomussync

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func pushRouter(worker *TenantSyncWorker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/sync/pubsub/push", PubSubPushHandler(worker))
	return r
}

func pushBody(t *testing.T, payload SyncTaskPayload) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	var envelope PubSubPushEnvelope
	envelope.Message.Data = data
	envelope.Message.ID = "1"
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestPubSubPushHandlerRunsTask(t *testing.T) {
	h := newWorkerHarness()
	h.fetchers[42] = &fakeFetcher{}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync/pubsub/push", bytes.NewReader(pushBody(t, taskFor(42))))
	pushRouter(h.worker).ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if len(h.runLog.started) != 1 {
		t.Fatalf("runs started = %d, want 1", len(h.runLog.started))
	}
	if h.runLog.started[0].TenantGroupId != 42 {
		t.Errorf("tenant = %d", h.runLog.started[0].TenantGroupId)
	}
}

func TestPubSubPushHandlerMalformedBodyStillAcked(t *testing.T) {
	h := newWorkerHarness()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync/pubsub/push", bytes.NewReader([]byte("not json")))
	pushRouter(h.worker).ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if len(h.runLog.started) != 0 {
		t.Errorf("run started for a malformed push")
	}
}

func TestPubSubPushHandlerDisabledByFlag(t *testing.T) {
	t.Setenv("ENABLE_NOMUS_PUBSUB_PUSH_ENDPOINT", "false")
	h := newWorkerHarness()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync/pubsub/push", bytes.NewReader(pushBody(t, taskFor(42))))
	pushRouter(h.worker).ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if len(h.runLog.started) != 0 {
		t.Errorf("disabled endpoint still ran the task")
	}
}
