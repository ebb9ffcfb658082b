package httpx

import (
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/newt-tracker/offline/internal/observe"
	"github.com/newt-tracker/offline/internal/offline"
	"github.com/newt-tracker/offline/internal/origin"
	"go.uber.org/zap"
)

const cacheStatusHeader = "X-Newt-Cache"

// Handler fronts the application origin with the offline cache: every
// inbound request is rewritten onto the origin and sent through the worker.
type Handler struct {
	Worker *offline.Worker
	Origin *origin.Client
	Log    *zap.Logger
	Proxy  *httputil.ReverseProxy
}

func NewHandler(worker *offline.Worker, originClient *origin.Client, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		Worker: worker,
		Origin: originClient,
		Log:    log,
	}
	target := originClient.BaseURL()
	h.Proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport:    &cacheTransport{worker: worker},
		ErrorHandler: h.proxyError,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Proxy.ServeHTTP(w, r)
}

func (h *Handler) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	h.Log.Warn("origin unreachable",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	w.Header().Set(cacheStatusHeader, cacheStatus(observe.OutcomeError))
	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

// cacheTransport labels each response with how the worker produced it. The
// label lives on the per-request response, never on a stored snapshot.
type cacheTransport struct {
	worker *offline.Worker
}

func (t *cacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, outcome, err := t.worker.Fetch(req)
	if err != nil {
		return nil, err
	}
	resp.Header.Set(cacheStatusHeader, cacheStatus(outcome))
	return resp, nil
}

func cacheStatus(outcome string) string {
	return strings.ToUpper(outcome)
}
