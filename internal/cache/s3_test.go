package cache

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "wiki"

type fakeObject struct {
	body        []byte
	contentType string
	meta        map[string]string
}

// fakeS3 is a path-style, single-bucket S3 endpoint covering the calls
// S3Storage makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeS3(t *testing.T) (*fakeS3, *s3.Client) {
	t.Helper()
	f := &fakeS3{objects: map[string]fakeObject{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		Credentials:                credentials.NewStaticCredentialsProvider("newt", "secret", ""),
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	return f, client
}

func (f *fakeS3) seed(key, body string) {
	f.mu.Lock()
	f.objects[key] = fakeObject{body: []byte(body)}
	f.mu.Unlock()
}

func (f *fakeS3) object(key string) (fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	return obj, ok
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != testBucket {
		s3Error(w, http.StatusNotFound, "NoSuchBucket")
		return
	}

	switch {
	case key == "" && r.Method == http.MethodGet:
		f.list(w, r)
	case key == "" && r.Method == http.MethodPost && r.URL.Query().Has("delete"):
		f.deleteMany(w, r)
	case r.Method == http.MethodPut:
		f.put(w, r, key)
	case r.Method == http.MethodGet:
		f.get(w, key)
	case r.Method == http.MethodDelete:
		f.mu.Lock()
		delete(f.objects, key)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		s3Error(w, http.StatusNotImplemented, "NotImplemented")
	}
}

type listResult struct {
	XMLName        xml.Name       `xml:"ListBucketResult"`
	Name           string         `xml:"Name"`
	Prefix         string         `xml:"Prefix"`
	KeyCount       int            `xml:"KeyCount"`
	MaxKeys        int            `xml:"MaxKeys"`
	IsTruncated    bool           `xml:"IsTruncated"`
	Contents       []listContent  `xml:"Contents"`
	CommonPrefixes []commonPrefix `xml:"CommonPrefixes"`
}

type listContent struct {
	Key  string `xml:"Key"`
	Size int    `xml:"Size"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

func (f *fakeS3) list(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	delimiter := r.URL.Query().Get("delimiter")

	res := listResult{Name: testBucket, Prefix: prefix, MaxKeys: 1000}
	seen := map[string]bool{}
	for _, key := range f.keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if !seen[cp] {
					seen[cp] = true
					res.CommonPrefixes = append(res.CommonPrefixes, commonPrefix{Prefix: cp})
				}
				continue
			}
		}
		obj, _ := f.object(key)
		res.Contents = append(res.Contents, listContent{Key: key, Size: len(obj.body)})
	}
	res.KeyCount = len(res.Contents) + len(res.CommonPrefixes)
	writeXML(w, res)
}

type deleteRequest struct {
	Objects []struct {
		Key string `xml:"Key"`
	} `xml:"Object"`
}

func (f *fakeS3) deleteMany(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		s3Error(w, http.StatusBadRequest, "MalformedXML")
		return
	}
	f.mu.Lock()
	for _, obj := range req.Objects {
		delete(f.objects, obj.Key)
	}
	f.mu.Unlock()
	writeXML(w, struct {
		XMLName xml.Name `xml:"DeleteResult"`
	}{})
}

func (f *fakeS3) put(w http.ResponseWriter, r *http.Request, key string) {
	body, err := readPayload(r)
	if err != nil {
		s3Error(w, http.StatusBadRequest, "IncompleteBody")
		return
	}
	meta := map[string]string{}
	for name, values := range r.Header {
		if lower := strings.ToLower(name); strings.HasPrefix(lower, "x-amz-meta-") {
			meta[strings.TrimPrefix(lower, "x-amz-meta-")] = values[0]
		}
	}
	f.mu.Lock()
	f.objects[key] = fakeObject{body: body, contentType: r.Header.Get("Content-Type"), meta: meta}
	f.mu.Unlock()
	w.Header().Set("ETag", `"`+strconv.Itoa(len(body))+`"`)
	w.WriteHeader(http.StatusOK)
}

func (f *fakeS3) get(w http.ResponseWriter, key string) {
	obj, ok := f.object(key)
	if !ok {
		s3Error(w, http.StatusNotFound, "NoSuchKey")
		return
	}
	for k, v := range obj.meta {
		w.Header().Set("x-amz-meta-"+k, v)
	}
	if obj.contentType != "" {
		w.Header().Set("Content-Type", obj.contentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.body)))
	_, _ = w.Write(obj.body)
}

// readPayload undoes aws-chunked framing when the client streams the body.
func readPayload(r *http.Request) ([]byte, error) {
	if !strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") &&
		!strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
		return io.ReadAll(r.Body)
	}
	var out bytes.Buffer
	br := bufio.NewReader(r.Body)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeField, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeField, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("chunk size %q: %w", sizeField, err)
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, size); err != nil {
			return nil, err
		}
		if _, err := br.ReadString('\n'); err != nil {
			return nil, err
		}
	}
}

func writeXML(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(v)
}

func s3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "%s<Error><Code>%s</Code><Message>%s</Message></Error>", xml.Header, code, code)
}

func TestS3StorageStaysUnderRoot(t *testing.T) {
	ctx := context.Background()
	fake, client := newFakeS3(t)
	fake.seed("zh/Foo", "<html>wiki page</html>")
	fake.seed("newt-cache/newt-tracker-v1/https:%2F%2Ftracker.example.com%2F", `{"status":200,"body":""}`)

	storage := NewS3Storage(testBucket, "newt-cache", client)
	current, err := storage.Open(ctx, "newt-tracker-v2")
	require.NoError(t, err)
	require.NoError(t, current.Put(ctx, "https://tracker.example.com/", Object{Status: http.StatusOK, Body: []byte("v2")}))

	names, err := storage.Names(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"newt-tracker-v1", "newt-tracker-v2"}, names)

	for _, name := range names {
		if name != "newt-tracker-v2" {
			require.NoError(t, storage.Remove(ctx, name))
		}
	}

	assert.Equal(t, []string{
		"newt-cache/newt-tracker-v2/https:%2F%2Ftracker.example.com%2F",
		"zh/Foo",
	}, fake.keys())

	_, err = storage.Open(ctx, "zh/Foo")
	assert.Error(t, err)
}

func TestS3StoreKeepsSnapshotInBody(t *testing.T) {
	ctx := context.Background()
	fake, client := newFakeS3(t)
	storage := NewS3Storage(testBucket, "newt-cache", client)
	store, err := storage.Open(ctx, "newt-tracker-v2")
	require.NoError(t, err)

	csp := "default-src 'self'; img-src" + strings.Repeat(" https://tiles.example.com", 120)
	in := Object{
		URL:    "https://tracker.example.com/",
		Status: http.StatusOK,
		Header: http.Header{
			"Content-Security-Policy": {csp},
			"X-Title":                 {"Überblick"},
			"Etag":                    {`"abc"`},
		},
		Body:        []byte("<html>newt tracker</html>"),
		ContentType: "text/html; charset=utf-8",
		UpdatedAt:   time.Unix(1700000000, 0),
	}
	require.NoError(t, store.Put(ctx, in.URL, in))

	stored, ok := fake.object("newt-cache/newt-tracker-v2/" + "https:%2F%2Ftracker.example.com%2F")
	require.True(t, ok)
	assert.Equal(t, recordType, stored.contentType)
	assert.Equal(t, map[string]string{updatedAtMetaKey: "1700000000"}, stored.meta)

	got, err := store.Match(ctx, in.URL)
	require.NoError(t, err)
	assert.Equal(t, in, got)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{in.URL}, keys)

	require.NoError(t, store.Delete(ctx, in.URL))
	_, err = store.Match(ctx, in.URL)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3StoreLastWriteWins(t *testing.T) {
	ctx := context.Background()
	_, client := newFakeS3(t)
	store, err := NewS3Storage(testBucket, "newt-cache", client).Open(ctx, "newt-tracker-v2")
	require.NoError(t, err)

	key := "https://tracker.example.com/favicon.ico"
	require.NoError(t, store.Put(ctx, key, Object{Status: http.StatusOK, Body: []byte("first")}))
	require.NoError(t, store.Put(ctx, key, Object{Status: http.StatusOK, Body: []byte("second")}))

	got, err := store.Match(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got.Body)
}
