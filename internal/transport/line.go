package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

const DefaultMaxLineBytes = 1 << 20

// readLine returns the next line without its "\n" or "\r\n" terminator.
// A final unterminated line is returned before io.EOF, also without a
// trailing "\r".
func readLine(r *bufio.Reader, maxBytes int) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLineBytes
	}

	var buf []byte
	for {
		fragment, err := r.ReadSlice('\n')
		buf = append(buf, fragment...)
		if len(trimEOL(buf)) > maxBytes {
			return "", fmt.Errorf("%w: more than %d bytes", ErrLineTooLong, maxBytes)
		}

		switch {
		case err == nil:
			return string(trimEOL(buf)), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) > 0:
			return string(bytes.TrimSuffix(buf, []byte("\r"))), nil
		default:
			return "", err
		}
	}
}

func trimEOL(b []byte) []byte {
	if !bytes.HasSuffix(b, []byte("\n")) {
		return b
	}
	b = b[:len(b)-1]

	return bytes.TrimSuffix(b, []byte("\r"))
}
