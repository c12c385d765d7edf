package wire

import (
	"bufio"
	"bytes"
	"testing"
)

func TestWriteRequestHead(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	headers := []Header{
		{"Host", "gw.internal"},
		{"Accept", "*/*"},
		{"X-Forwarded-For", "10.0.0.1"},
	}
	if err := WriteRequestHead(w, "POST", "/submit", "HTTP/1.1", headers); err != nil {
		t.Fatalf("WriteRequestHead() error = %v", err)
	}
	w.Flush()

	want := "POST /submit HTTP/1.1\r\n" +
		"Host: gw.internal\r\n" +
		"Accept: */*\r\n" +
		"X-Forwarded-For: 10.0.0.1\r\n" +
		"\r\n"
	if buf.String() != want {
		t.Errorf("head = %q, want %q", buf.String(), want)
	}
}

func TestWriteResponseHead(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	headers := []Header{
		{"Content-Length", "2"},
		{"Connection", "close"},
	}
	if err := WriteResponseHead(w, "HTTP/1.1", 502, "Bad Gateway", headers); err != nil {
		t.Fatalf("WriteResponseHead() error = %v", err)
	}
	w.Flush()

	want := "HTTP/1.1 502 Bad Gateway\r\n" +
		"Content-Length: 2\r\n" +
		"Connection: close\r\n" +
		"\r\n"
	if buf.String() != want {
		t.Errorf("head = %q, want %q", buf.String(), want)
	}
}

// A parsed head written back out must parse to the same message.
func TestHeadRoundTrip(t *testing.T) {
	raw := "GET /x HTTP/1.1\r\nAccept: text/html\r\nX-A: 1\r\nX-A: 2\r\n\r\n"
	req, err := ReadRequest(reader(raw), NewBuffers())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := WriteRequestHead(w, req.Method, req.Path, req.Proto, req.Headers); err != nil {
		t.Fatal(err)
	}
	w.Flush()

	again, err := ReadRequest(bufio.NewReader(&buf), NewBuffers())
	if err != nil {
		t.Fatal(err)
	}
	if again.Method != req.Method || again.Path != req.Path || len(again.Headers) != len(req.Headers) {
		t.Errorf("round trip mismatch: %+v vs %+v", req, again)
	}
}
