package utils

import (
	"net/http/httptest"
	"testing"
)

func TestSendSSEChunk(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := SendSSEChunk(rec, rec, map[string]string{"text": "Om"}); err != nil {
		t.Fatalf("SendSSEChunk err: %v", err)
	}
	if err := SendSSEData(rec, rec, []byte("[DONE]")); err != nil {
		t.Fatalf("SendSSEData err: %v", err)
	}

	want := "data: {\"text\":\"Om\"}\n\ndata: [DONE]\n\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("unexpected body: %q", got)
	}
	if !rec.Flushed {
		t.Fatal("expected response to be flushed")
	}
}

func TestSendSSEChunkRejectsUnmarshalable(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := SendSSEChunk(rec, rec, make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected nothing written, got %q", rec.Body.String())
	}
}

func TestSetupSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type: %s", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache, no-transform" {
		t.Fatalf("Cache-Control: %s", got)
	}
	if got := rec.Header().Get("Connection"); got != "keep-alive" {
		t.Fatalf("Connection: %s", got)
	}
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, 500, "failed", "boom")

	if rec.Code != 500 {
		t.Fatalf("status: %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("Content-Type: %s", got)
	}
	if got := rec.Body.String(); got != "{\"error\":\"failed\",\"details\":\"boom\"}\n" {
		t.Fatalf("body: %q", got)
	}
}
