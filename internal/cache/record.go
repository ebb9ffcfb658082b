package cache

import (
	"encoding/json"
	"net/http"
	"time"
)

// record is the serialised form of an Object shared by the remote
// backends. The whole snapshot travels as one value, so headers of any
// size survive backends that cap metadata.
type record struct {
	URL         string      `json:"url,omitempty"`
	Status      int         `json:"status"`
	Header      http.Header `json:"header,omitempty"`
	Body        []byte      `json:"body"`
	ContentType string      `json:"content_type,omitempty"`
	Encoding    string      `json:"encoding,omitempty"`
	UpdatedAt   int64       `json:"updated_at,omitempty"`
}

func encodeRecord(obj Object) ([]byte, error) {
	rec := record{
		URL:         obj.URL,
		Status:      obj.Status,
		Header:      obj.Header,
		Body:        obj.Body,
		ContentType: obj.ContentType,
		Encoding:    obj.Encoding,
	}
	if !obj.UpdatedAt.IsZero() {
		rec.UpdatedAt = obj.UpdatedAt.Unix()
	}
	return json.Marshal(rec)
}

func decodeRecord(raw []byte) (Object, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Object{}, err
	}
	obj := Object{
		URL:         rec.URL,
		Status:      rec.Status,
		Header:      rec.Header,
		Body:        rec.Body,
		ContentType: rec.ContentType,
		Encoding:    rec.Encoding,
	}
	if obj.Status == 0 {
		obj.Status = http.StatusOK
	}
	if rec.UpdatedAt != 0 {
		obj.UpdatedAt = time.Unix(rec.UpdatedAt, 0)
	}
	return obj, nil
}
