package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"solescan/internal/ingest"
)

func ingestRouter(token string, inbox chan ingest.Event) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := &IngestHandler{
		Token:   token,
		Inboxes: map[string]chan<- ingest.Event{"supplier-feed": inbox},
	}
	h.Register(r)
	return r
}

func postEvents(t *testing.T, r *gin.Engine, source, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest/"+source+"/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Ingest-Token", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIngestEndpointAcceptsBatch(t *testing.T) {
	inbox := make(chan ingest.Event, 4)
	r := ingestRouter("s3cret", inbox)

	body := `[{"external_id":"x1","ean":"4064037721095","price":"119.95","currency":"EUR","in_stock":true},
	          {"external_id":"x2","style_code":"DD1391-100","price":"89.00","currency":"EUR","in_stock":false}]`
	w := postEvents(t, r, "supplier-feed", "s3cret", body)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["accepted"] != 2 {
		t.Fatalf("accepted = %d", resp["accepted"])
	}
	if len(inbox) != 2 {
		t.Fatalf("inbox depth = %d", len(inbox))
	}
	ev := <-inbox
	if ev.ExternalID != "x1" || !ev.InStock {
		t.Fatalf("event = %+v", ev)
	}
}

func TestIngestEndpointRejectsBadToken(t *testing.T) {
	r := ingestRouter("s3cret", make(chan ingest.Event, 1))
	if w := postEvents(t, r, "supplier-feed", "wrong", `[]`); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestIngestEndpointUnknownSource(t *testing.T) {
	r := ingestRouter("", make(chan ingest.Event, 1))
	if w := postEvents(t, r, "nobody", "", `[{"external_id":"x"}]`); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestIngestEndpointBackpressure(t *testing.T) {
	inbox := make(chan ingest.Event, 1)
	r := ingestRouter("", inbox)

	body := `[{"external_id":"x1"},{"external_id":"x2"},{"external_id":"x3"}]`
	w := postEvents(t, r, "supplier-feed", "", body)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["accepted"] != 1 || resp["rejected"] != 2 {
		t.Fatalf("resp = %v", resp)
	}
}
