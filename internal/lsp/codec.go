package lsp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxFrameSize bounds the body a server may announce.
const maxFrameSize = 64 << 20

// ReadFrame reads one Content-Length framed message body. Header names are
// case-insensitive and headers other than Content-Length are ignored. A
// missing or unparsable length is a *ProtocolError; a stream that ends
// between frames returns io.EOF.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	length := -1
	for first := true; ; first = false {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && first && line == "" {
				return nil, io.EOF
			}
			return nil, &ProtocolError{Reason: "truncated header", Err: err}
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &ProtocolError{Reason: fmt.Sprintf("malformed header %q", line)}
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, &ProtocolError{Reason: fmt.Sprintf("invalid Content-Length %q", value), Err: err}
			}
			length = n
		}
	}

	if length < 0 {
		return nil, &ProtocolError{Reason: "missing Content-Length header"}
	}
	if length > maxFrameSize {
		return nil, &ProtocolError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit", length)}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, &ProtocolError{Reason: "truncated body", Err: err}
	}
	return body, nil
}

// WriteFrame writes body with a Content-Length header.
func WriteFrame(w io.Writer, body []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}
