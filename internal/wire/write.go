package wire

import (
	"bufio"
	"strconv"
)

var crlf = []byte("\r\n")

// WriteRequestHead serializes a request line followed by the given headers
// and the terminating blank line. Header values are written as-is; the
// caller is responsible for their validity.
func WriteRequestHead(w *bufio.Writer, method, path, proto string, headers []Header) error {
	w.WriteString(method)
	w.WriteByte(' ')
	w.WriteString(path)
	w.WriteByte(' ')
	w.WriteString(proto)
	w.Write(crlf)
	writeHeaders(w, headers)
	_, err := w.Write(crlf)
	return err
}

// WriteResponseHead serializes a status line followed by the given headers
// and the terminating blank line.
func WriteResponseHead(w *bufio.Writer, proto string, status int, reason string, headers []Header) error {
	w.WriteString(proto)
	w.WriteByte(' ')
	w.WriteString(strconv.Itoa(status))
	w.WriteByte(' ')
	w.WriteString(reason)
	w.Write(crlf)
	writeHeaders(w, headers)
	_, err := w.Write(crlf)
	return err
}

func writeHeaders(w *bufio.Writer, headers []Header) {
	for _, h := range headers {
		w.WriteString(h.Name)
		w.WriteString(": ")
		w.WriteString(h.Value)
		w.Write(crlf)
	}
}
