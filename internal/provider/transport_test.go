package provider

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

type recorded struct {
	method string
	path   string
	query  string
	body   []byte
}

type reply struct {
	status int
	ctype  string
	body   string
}

func jsonReply(body string) reply { return reply{status: http.StatusOK, ctype: "application/json", body: body} }
func sseReply(body string) reply { return reply{status: http.StatusOK, ctype: "text/event-stream", body: body} }
func errReply(status int, body string) reply {
	return reply{status: status, ctype: "application/json", body: body}
}

// fakeTransport answers each request with the next reply queued for its
// "METHOD path" key and records what was sent.
type fakeTransport struct {
	mu       sync.Mutex
	routes   map[string][]reply
	fallback func(req *http.Request) reply
	reqs     []recorded
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{routes: make(map[string][]reply)}
}

func (f *fakeTransport) on(method, path string, replies ...reply) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := method + " " + path
	f.routes[key] = append(f.routes[key], replies...)
	return f
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var b []byte
	if req.Body != nil {
		b, _ = io.ReadAll(req.Body)
		_ = req.Body.Close()
	}
	f.mu.Lock()
	f.reqs = append(f.reqs, recorded{method: req.Method, path: req.URL.Path, query: req.URL.RawQuery, body: b})
	key := req.Method + " " + req.URL.Path
	queue := f.routes[key]
	var rep reply
	switch {
	case len(queue) > 1:
		rep = queue[0]
		f.routes[key] = queue[1:]
	case len(queue) == 1:
		rep = queue[0]
	case f.fallback != nil:
		rep = f.fallback(req)
	default:
		rep = errReply(http.StatusNotFound, `{"error":{"message":"no route for `+key+`"}}`)
	}
	f.mu.Unlock()

	resp := &http.Response{
		StatusCode: rep.status,
		Body:       io.NopCloser(bytes.NewReader([]byte(rep.body))),
		Header:     make(http.Header),
		Request:    req,
	}
	resp.Header.Set("Content-Type", rep.ctype)
	return resp, nil
}

func (f *fakeTransport) requests() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.reqs...)
}

func (f *fakeTransport) find(method, path string) (recorded, bool) {
	for _, r := range f.requests() {
		if r.method == method && r.path == path {
			return r, true
		}
	}
	return recorded{}, false
}

func (f *fakeTransport) client() *http.Client {
	return &http.Client{Transport: f}
}
