package source

import (
	"fmt"
	"io"
	"net/http"
)

// UserAgent is sent with every request to a listing source.
const UserAgent = "Mozilla/5.0 (compatible; RealtyTracker/1.0)"

const maxBodySize = 10 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a fully read HTTP response.
type Response struct {
	Header http.Header
	Body   []byte
}

// Cookie returns the named cookie set by the response, if any.
func (r Response) Cookie(name string) (string, bool) {
	for _, c := range (&http.Response{Header: r.Header}).Cookies() {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Do performs req and reads the body. 404 and 410 map to ErrNotFound, any
// other non-2xx status is an error.
func Do(client HTTPClient, req *http.Request) (Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("http %s: %w", req.Method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return Response{}, fmt.Errorf("%s: %w", req.URL, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Response{}, fmt.Errorf("%s: unexpected status %d", req.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Response{}, fmt.Errorf("read body: %w", err)
	}
	return Response{Header: resp.Header, Body: body}, nil
}
