// Package wire reads client requests off raw connections and writes relayed
// responses back. It speaks just enough HTTP/1.x for the proxy's
// one-exchange-per-connection model: a request line, header lines up to a
// blank line, and an optional Content-Length body. Chunked transfer encoding
// is not supported.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"relay-proxy-go/internal/model"
)

var (
	// ErrMalformedRequest marks input that cannot be parsed as a request.
	// The connection is closed without writing a response.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrRequestTimeout marks a read that exceeded the per-read deadline.
	// The connection is closed without writing a response.
	ErrRequestTimeout = errors.New("request read timed out")
)

// maxHeadBytes bounds the request line and headers, on top of the declared
// body, so a client cannot stream an endless head.
const maxHeadBytes = 64 << 10

// Decoder reads a single request from a client connection. A fresh read
// deadline is armed before the request line, before every header line, and
// before the body.
type Decoder struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
	maxBody int64
}

// NewDecoder wraps conn for one request. timeout is the per-read deadline;
// maxBody caps the accepted Content-Length.
func NewDecoder(conn net.Conn, timeout time.Duration, maxBody int64) *Decoder {
	lr := &io.LimitedReader{R: conn, N: maxBody + maxHeadBytes}
	return &Decoder{
		conn:    conn,
		r:       bufio.NewReader(lr),
		timeout: timeout,
		maxBody: maxBody,
	}
}

// ReadRequest parses the next request. It returns io.EOF when the client
// closes before sending anything, ErrRequestTimeout when a deadline expires,
// and ErrMalformedRequest for everything unparseable.
func (d *Decoder) ReadRequest() (*model.Request, error) {
	line, err := d.readLine()
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimRight(line, "\r\n")

	// Splitting on at most two spaces means a path with an embedded space
	// folds its tail into the version token instead of failing.
	parts := strings.SplitN(trimmed, " ", 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformedRequest, trimmed)
	}
	req := &model.Request{
		Method:  parts[0],
		Path:    parts[1],
		Version: parts[2],
		Headers: make(map[string]string),
	}

	for {
		hl, err := d.readLine()
		if err != nil {
			// A clean close is only clean before the request line; here it
			// means the header block never finished.
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: connection closed before end of headers", ErrMalformedRequest)
			}
			return nil, err
		}
		if hl == "\r\n" || hl == "\n" {
			break
		}
		key, value, ok := strings.Cut(strings.TrimRight(hl, "\r\n"), ":")
		if !ok {
			continue // not a header line, skip it
		}
		req.Headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	if raw, ok := req.Headers["Content-Length"]; ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: content-length %q", ErrMalformedRequest, raw)
		}
		if n > d.maxBody {
			return nil, fmt.Errorf("%w: content-length %d exceeds limit %d", ErrMalformedRequest, n, d.maxBody)
		}
		body, err := d.readFull(int(n))
		if err != nil {
			return nil, err
		}
		req.Body = body
	}
	return req, nil
}

// readLine returns one line including its terminator. A clean close before
// any byte surfaces as io.EOF; a close mid-line is a malformed request.
func (d *Decoder) readLine() (string, error) {
	if err := d.conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
		return "", fmt.Errorf("arm read deadline: %w", err)
	}
	line, err := d.r.ReadString('\n')
	if err != nil {
		switch {
		case isTimeout(err):
			return "", fmt.Errorf("%w: %v", ErrRequestTimeout, err)
		case errors.Is(err, io.EOF) && line == "":
			return "", io.EOF
		default:
			return "", fmt.Errorf("%w: reading line: %v", ErrMalformedRequest, err)
		}
	}
	return line, nil
}

// readFull reads exactly n body bytes under a single deadline.
func (d *Decoder) readFull(n int) ([]byte, error) {
	if err := d.conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
		return nil, fmt.Errorf("arm read deadline: %w", err)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(d.r, body); err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: reading body: %v", ErrRequestTimeout, err)
		}
		return nil, fmt.Errorf("%w: body shorter than content-length: %v", ErrMalformedRequest, err)
	}
	return body, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
