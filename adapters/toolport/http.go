// Package toolport is an external-request-port host: it answers a
// workflow's requestExternal calls by making an HTTP request and
// resolving the gate with the response, keeping net/http entirely out of
// the scheduler and gate packages (spec §4.6/§6).
package toolport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dshills/workflow-core/emit"
)

// Request is the payload a handler passes to wfcontext.RequestExternal
// when targeting a Host's port.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// Response is what the Host resolves the request with.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// Responder resolves a previously suspended request — runtime.Run.SendResponse
// has exactly this signature, so Serve is normally called as
// host.Serve(ctx, run.Events(), run.SendResponse, onDecodeErr).
type Responder func(requestID string, value interface{}, err error) error

// Host performs the HTTP call a Request describes.
type Host struct {
	portID string
	client *http.Client
}

// NewHost creates a Host that answers requests addressed to portID.
func NewHost(portID string) *Host {
	return &Host{portID: portID, client: &http.Client{}}
}

// PortID returns the port this Host answers.
func (h *Host) PortID() string { return h.portID }

// Call performs req and returns the response, or an error if the request
// could not be constructed or executed — a non-2xx HTTP status is still a
// successful Call, surfaced via Response.StatusCode, matching the
// teacher's HTTPTool (an HTTP-level error and an application-level
// non-success status are different things).
func (h *Host) Call(ctx context.Context, req Request) (Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if req.URL == "" {
		return Response{}, fmt.Errorf("toolport: request missing a URL")
	}

	var body io.Reader
	if req.Body != "" {
		body = bytes.NewBufferString(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return Response{}, fmt.Errorf("toolport: build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("toolport: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("toolport: read response: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, values := range resp.Header {
		if len(values) > 0 {
			headers[k] = values[0]
		}
	}

	return Response{StatusCode: resp.StatusCode, Headers: headers, Body: string(respBody)}, nil
}

// Serve drains events until ctx is cancelled or the channel closes,
// answering every "external_request" event addressed to this Host's port:
// it performs the HTTP call and resolves the gate via responder, so the
// suspended handler resumes with a Response value (or the call's error).
// A Request the event's meta does not carry (a caller using a different
// payload shape for this port) is reported through onDecodeErr rather
// than silently dropped; a nil onDecodeErr discards it.
func (h *Host) Serve(ctx context.Context, events <-chan emit.Event, respond Responder, onDecodeErr func(event emit.Event, err error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind != "external_request" {
				continue
			}
			port, _ := ev.Meta["port"].(string)
			if port != h.portID {
				continue
			}
			requestID, _ := ev.Meta["requestId"].(string)
			req, ok := ev.Meta["payload"].(Request)
			if !ok {
				if onDecodeErr != nil {
					onDecodeErr(ev, fmt.Errorf("toolport: port %q: payload is not a toolport.Request (%T)", h.portID, ev.Meta["payload"]))
				}
				continue
			}

			resp, err := h.Call(ctx, req)
			if respErr := respond(requestID, resp, err); respErr != nil && onDecodeErr != nil {
				onDecodeErr(ev, fmt.Errorf("toolport: resolve %q: %w", requestID, respErr))
			}
		}
	}
}
