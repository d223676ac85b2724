package wire

import (
	"bytes"
	"fmt"
	"io"
)

// WriteResponse relays one forward result back to the client, echoing the
// HTTP version the request arrived with. The status line always carries the
// reason phrase "OK" and the body is always labeled application/json,
// whatever the status or payload. The response goes out in a single write.
func WriteResponse(w io.Writer, version string, status int, body string) error {
	var buf bytes.Buffer
	buf.Grow(len(body) + 64)
	fmt.Fprintf(&buf, "%s %d OK\r\n", version, status)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(body))
	buf.WriteString("Content-Type: application/json\r\n\r\n")
	buf.WriteString(body)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
