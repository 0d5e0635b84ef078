package utils

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

var (
	ssePrefix     = []byte("data: ")
	sseTerminator = []byte("\n\n")
)

// SendSSEChunk 发送Server-Sent Events数据块
func SendSSEChunk(w io.Writer, flusher http.Flusher, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal sse payload")
	}
	return SendSSEData(w, flusher, data)
}

// SendSSEData 发送原始 data 行，例如结束标记
func SendSSEData(w io.Writer, flusher http.Flusher, data []byte) error {
	if _, err := w.Write(ssePrefix); err != nil {
		return errors.Wrap(err, "write sse prefix")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "write sse payload")
	}
	if _, err := w.Write(sseTerminator); err != nil {
		return errors.Wrap(err, "write sse terminator")
	}
	flusher.Flush()
	return nil
}

// SetupSSEHeaders 设置Server-Sent Events响应头
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
}
