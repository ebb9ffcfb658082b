package offline

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/newt-tracker/offline/internal/cache"
)

func snapshot(resp *http.Response, finalURL string, body []byte) cache.Object {
	return cache.Object{
		URL:         finalURL,
		Status:      resp.StatusCode,
		Header:      resp.Header.Clone(),
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Encoding:    resp.Header.Get("Content-Encoding"),
		UpdatedAt:   time.Now().UTC(),
	}
}

// objectResponse replays a stored snapshot as a response to req.
func objectResponse(req *http.Request, obj cache.Object) *http.Response {
	header := obj.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if obj.ContentType != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", obj.ContentType)
	}
	if obj.Encoding != "" && header.Get("Content-Encoding") == "" {
		header.Set("Content-Encoding", obj.Encoding)
	}
	status := obj.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(obj.Body)),
		ContentLength: int64(len(obj.Body)),
		Request:       req,
	}
}
