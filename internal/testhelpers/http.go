package testhelpers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// HTTPTestContext drives one request through a handler and checks the reply.
type HTTPTestContext struct {
	T        *testing.T
	Recorder *httptest.ResponseRecorder
	Request  *http.Request
}

// NewHTTPTestContext prepares a request against path.
func NewHTTPTestContext(t *testing.T, method, path string, body io.Reader) *HTTPTestContext {
	t.Helper()
	return &HTTPTestContext{
		T:        t,
		Recorder: httptest.NewRecorder(),
		Request:  httptest.NewRequest(method, path, body),
	}
}

func (c *HTTPTestContext) WithHeader(key, value string) *HTTPTestContext {
	c.Request.Header.Set(key, value)
	return c
}

// WithJSONBody replaces the request body with v encoded as JSON.
func (c *HTTPTestContext) WithJSONBody(v interface{}) *HTTPTestContext {
	c.T.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		c.T.Fatalf("encode request body: %v", err)
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(payload))
	c.Request.ContentLength = int64(len(payload))
	return c.WithHeader("Content-Type", "application/json")
}

// WithServiceKey authenticates as the edge detection pipeline.
func (c *HTTPTestContext) WithServiceKey(key string) *HTTPTestContext {
	return c.WithHeader("X-Service-Key", key)
}

// WithBearerToken authenticates as an operator.
func (c *HTTPTestContext) WithBearerToken(token string) *HTTPTestContext {
	return c.WithHeader("Authorization", "Bearer "+token)
}

func (c *HTTPTestContext) Execute(h http.Handler) *HTTPTestContext {
	h.ServeHTTP(c.Recorder, c.Request)
	return c
}

func (c *HTTPTestContext) AssertStatus(want int) *HTTPTestContext {
	c.T.Helper()
	if got := c.Recorder.Code; got != want {
		c.T.Errorf("%s %s: status %d, want %d; body %s",
			c.Request.Method, c.Request.URL.Path, got, want, c.Recorder.Body.String())
	}
	return c
}

func (c *HTTPTestContext) AssertBodyContains(fragment string) *HTTPTestContext {
	c.T.Helper()
	if body := c.Recorder.Body.String(); !strings.Contains(body, fragment) {
		c.T.Errorf("body %s does not contain %q", body, fragment)
	}
	return c
}

// DecodeJSON reads the recorded response into v.
func (c *HTTPTestContext) DecodeJSON(v interface{}) *HTTPTestContext {
	c.T.Helper()
	if err := json.Unmarshal(c.Recorder.Body.Bytes(), v); err != nil {
		c.T.Fatalf("decode response %q: %v", c.Recorder.Body.String(), err)
	}
	return c
}
