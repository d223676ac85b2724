package wire

import (
	"bytes"
	"errors"
	"io"
	"maps"
	"net"
	"testing"
	"time"

	"relay-proxy-go/internal/model"
)

const testMaxBody = 10 << 20

// feed writes input to one end of a pipe and decodes a request from the
// other. The writer closes after the payload, like a client that sends once
// and goes quiet.
func feed(t *testing.T, input string) (*model.Request, error) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	go func() {
		_, _ = client.Write([]byte(input))
		_ = client.Close()
	}()
	d := NewDecoder(server, time.Second, testMaxBody)
	return d.ReadRequest()
}

func strptr(s string) *string { return &s }

func TestReadRequest(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantMethod  string
		wantPath    string
		wantVersion string
		wantHeaders map[string]string
		wantBody    *string // nil means no body expected
		wantErr     error
	}{
		{
			name:        "simple GET without body",
			input:       "GET /api/users HTTP/1.1\r\nHost: example.com\r\nAccept: application/json\r\n\r\n",
			wantMethod:  "GET",
			wantPath:    "/api/users",
			wantVersion: "HTTP/1.1",
			wantHeaders: map[string]string{"Host": "example.com", "Accept": "application/json"},
		},
		{
			name:        "bare LF line endings",
			input:       "GET / HTTP/1.1\nHost: localhost\n\n",
			wantMethod:  "GET",
			wantPath:    "/",
			wantVersion: "HTTP/1.1",
			wantHeaders: map[string]string{"Host": "localhost"},
		},
		{
			name:        "header whitespace trimmed",
			input:       "GET / HTTP/1.1\r\nHost:   spaced.example.com   \r\n\r\n",
			wantMethod:  "GET",
			wantPath:    "/",
			wantVersion: "HTTP/1.1",
			wantHeaders: map[string]string{"Host": "spaced.example.com"},
		},
		{
			name:        "duplicate header keeps last value",
			input:       "GET / HTTP/1.1\r\nX-Trace: first\r\nX-Trace: second\r\n\r\n",
			wantMethod:  "GET",
			wantPath:    "/",
			wantVersion: "HTTP/1.1",
			wantHeaders: map[string]string{"X-Trace": "second"},
		},
		{
			name:        "line without colon skipped",
			input:       "GET / HTTP/1.1\r\nthis is not a header\r\nHost: ok\r\n\r\n",
			wantMethod:  "GET",
			wantPath:    "/",
			wantVersion: "HTTP/1.1",
			wantHeaders: map[string]string{"Host": "ok"},
		},
		{
			name:        "header value keeps inner colons",
			input:       "GET / HTTP/1.1\r\nReferer: http://example.com/a\r\n\r\n",
			wantMethod:  "GET",
			wantPath:    "/",
			wantVersion: "HTTP/1.1",
			wantHeaders: map[string]string{"Referer": "http://example.com/a"},
		},
		{
			name:        "body read to exact length",
			input:       "POST /submit HTTP/1.1\r\nContent-Length: 11\r\n\r\nhello world",
			wantMethod:  "POST",
			wantPath:    "/submit",
			wantVersion: "HTTP/1.1",
			wantHeaders: map[string]string{"Content-Length": "11"},
			wantBody:    strptr("hello world"),
		},
		{
			name:        "zero content length yields empty body",
			input:       "POST /submit HTTP/1.1\r\nContent-Length: 0\r\n\r\n",
			wantMethod:  "POST",
			wantPath:    "/submit",
			wantVersion: "HTTP/1.1",
			wantHeaders: map[string]string{"Content-Length": "0"},
			wantBody:    strptr(""),
		},
		{
			name:        "lowercase content-length is not a body marker",
			input:       "POST / HTTP/1.1\r\ncontent-length: 5\r\n\r\nhello",
			wantMethod:  "POST",
			wantPath:    "/",
			wantVersion: "HTTP/1.1",
			wantHeaders: map[string]string{"content-length": "5"},
		},
		{
			name:        "path with space folds into version token",
			input:       "GET /a b HTTP/1.1\r\n\r\n",
			wantMethod:  "GET",
			wantPath:    "/a",
			wantVersion: "b HTTP/1.1",
			wantHeaders: map[string]string{},
		},
		{
			name:    "two token request line",
			input:   "GET /\r\n",
			wantErr: ErrMalformedRequest,
		},
		{
			name:    "one token request line",
			input:   "PING\r\n",
			wantErr: ErrMalformedRequest,
		},
		{
			name:    "content length not a number",
			input:   "POST / HTTP/1.1\r\nContent-Length: abc\r\n\r\n",
			wantErr: ErrMalformedRequest,
		},
		{
			name:    "negative content length",
			input:   "POST / HTTP/1.1\r\nContent-Length: -5\r\n\r\n",
			wantErr: ErrMalformedRequest,
		},
		{
			name:    "body shorter than declared",
			input:   "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc",
			wantErr: ErrMalformedRequest,
		},
		{
			name:    "connection closed mid request line",
			input:   "GET / HT",
			wantErr: ErrMalformedRequest,
		},
		{
			name:    "connection closed before blank line",
			input:   "GET / HTTP/1.1\r\nHost: example.com\r\n",
			wantErr: ErrMalformedRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := feed(t, tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ReadRequest() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadRequest() error = %v", err)
			}
			if req.Method != tt.wantMethod {
				t.Errorf("method = %q, want %q", req.Method, tt.wantMethod)
			}
			if req.Path != tt.wantPath {
				t.Errorf("path = %q, want %q", req.Path, tt.wantPath)
			}
			if req.Version != tt.wantVersion {
				t.Errorf("version = %q, want %q", req.Version, tt.wantVersion)
			}
			if !maps.Equal(req.Headers, tt.wantHeaders) {
				t.Errorf("headers = %v, want %v", req.Headers, tt.wantHeaders)
			}
			if tt.wantBody == nil {
				if req.Body != nil {
					t.Errorf("body = %q, want none", req.Body)
				}
			} else {
				if req.Body == nil {
					t.Fatalf("body = nil, want %q", *tt.wantBody)
				}
				if !bytes.Equal(req.Body, []byte(*tt.wantBody)) {
					t.Errorf("body = %q, want %q", req.Body, *tt.wantBody)
				}
			}
		})
	}
}

func TestReadRequestCleanClose(t *testing.T) {
	req, err := feed(t, "")
	if req != nil {
		t.Fatalf("request = %+v, want nil", req)
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("error = %v, want io.EOF", err)
	}
}

func TestReadRequestTimeout(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"silent client", ""},
		{"stalls after request line", "GET / HTTP/1.1\r\n"},
		{"stalls before body", "POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := net.Pipe()
			t.Cleanup(func() {
				_ = client.Close()
				_ = server.Close()
			})
			go func() {
				_, _ = client.Write([]byte(tt.input))
				// Keep the connection open so the next read waits.
			}()

			d := NewDecoder(server, 50*time.Millisecond, testMaxBody)
			_, err := d.ReadRequest()
			if !errors.Is(err, ErrRequestTimeout) {
				t.Fatalf("error = %v, want ErrRequestTimeout", err)
			}
		})
	}
}

func TestReadRequestBodyOverCap(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	go func() {
		_, _ = client.Write([]byte("POST / HTTP/1.1\r\nContent-Length: 17\r\n\r\n"))
		_ = client.Close()
	}()

	d := NewDecoder(server, time.Second, 16)
	_, err := d.ReadRequest()
	if !errors.Is(err, ErrMalformedRequest) {
		t.Fatalf("error = %v, want ErrMalformedRequest", err)
	}
}
