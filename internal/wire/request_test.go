package wire

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadRequest_Basic(t *testing.T) {
	raw := "GET /search?q=x HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Accept: text/html\r\n" +
		"X-Custom: a\r\n" +
		"X-Custom: b\r\n" +
		"\r\n"

	req, err := ReadRequest(reader(raw), NewBuffers())
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}

	if req.Method != "GET" {
		t.Errorf("Method = %q, want GET", req.Method)
	}
	if req.Path != "/search?q=x" {
		t.Errorf("Path = %q, want /search?q=x", req.Path)
	}
	if req.Proto != "HTTP/1.1" {
		t.Errorf("Proto = %q, want HTTP/1.1", req.Proto)
	}
	if req.Host != "example.com" {
		t.Errorf("Host = %q, want example.com", req.Host)
	}
	if !req.KeepAlive {
		t.Error("KeepAlive = false, want true for HTTP/1.1 default")
	}
	if req.ContentLength != 0 {
		t.Errorf("ContentLength = %d, want 0 when absent", req.ContentLength)
	}

	// Host is consumed, duplicates keep wire order.
	want := []Header{
		{"Accept", "text/html"},
		{"X-Custom", "a"},
		{"X-Custom", "b"},
	}
	if len(req.Headers) != len(want) {
		t.Fatalf("Headers = %v, want %v", req.Headers, want)
	}
	for i, h := range want {
		if req.Headers[i] != h {
			t.Errorf("Headers[%d] = %v, want %v", i, req.Headers[i], h)
		}
	}
}

func TestReadRequest_SpecialHeaders(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, req *Request)
	}{
		{
			name: "content length parsed and forwarded",
			raw:  "POST / HTTP/1.1\r\nHost: a\r\nContent-Length: 12\r\n\r\n",
			check: func(t *testing.T, req *Request) {
				if req.ContentLength != 12 {
					t.Errorf("ContentLength = %d, want 12", req.ContentLength)
				}
				if len(req.Headers) != 1 || req.Headers[0].Name != "Content-Length" {
					t.Errorf("Content-Length should stay forwardable, got %v", req.Headers)
				}
			},
		},
		{
			name: "connection close clears keep-alive",
			raw:  "GET / HTTP/1.1\r\nHost: a\r\nConnection: close\r\n\r\n",
			check: func(t *testing.T, req *Request) {
				if req.KeepAlive {
					t.Error("KeepAlive = true, want false after Connection: close")
				}
				if len(req.Headers) != 0 {
					t.Errorf("Connection should be consumed, got %v", req.Headers)
				}
			},
		},
		{
			name: "http/1.0 opts into keep-alive",
			raw:  "GET / HTTP/1.0\r\nHost: a\r\nConnection: keep-alive\r\n\r\n",
			check: func(t *testing.T, req *Request) {
				if !req.KeepAlive {
					t.Error("KeepAlive = false, want true after Connection: keep-alive")
				}
			},
		},
		{
			name: "chunked transfer encoding",
			raw:  "POST / HTTP/1.1\r\nHost: a\r\nTransfer-Encoding: chunked\r\n\r\n",
			check: func(t *testing.T, req *Request) {
				if !req.Chunked {
					t.Error("Chunked = false, want true")
				}
				if len(req.Headers) != 0 {
					t.Errorf("Transfer-Encoding should be consumed, got %v", req.Headers)
				}
			},
		},
		{
			name: "expect 100-continue flagged and forwarded",
			raw:  "POST / HTTP/1.1\r\nHost: a\r\nExpect: 100-continue\r\n\r\n",
			check: func(t *testing.T, req *Request) {
				if !req.Expect100 {
					t.Error("Expect100 = false, want true")
				}
				if len(req.Headers) != 1 || req.Headers[0].Name != "Expect" {
					t.Errorf("Expect should stay forwardable, got %v", req.Headers)
				}
			},
		},
		{
			name: "websocket upgrade flagged",
			raw:  "GET /ws HTTP/1.1\r\nHost: a\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n",
			check: func(t *testing.T, req *Request) {
				if !req.Upgrade {
					t.Error("Upgrade = false, want true")
				}
			},
		},
		{
			name: "forwarded-for chain captured separately",
			raw:  "GET / HTTP/1.1\r\nHost: a\r\nX-Forwarded-For: 1.2.3.4, 5.6.7.8\r\n\r\n",
			check: func(t *testing.T, req *Request) {
				if req.ForwardedFor != "1.2.3.4, 5.6.7.8" {
					t.Errorf("ForwardedFor = %q", req.ForwardedFor)
				}
				if len(req.Headers) != 0 {
					t.Errorf("X-Forwarded-For should be consumed, got %v", req.Headers)
				}
			},
		},
		{
			name: "header value leading space trimmed",
			raw:  "GET / HTTP/1.1\r\nHost:   spaced.example\r\n\r\n",
			check: func(t *testing.T, req *Request) {
				if req.Host != "spaced.example" {
					t.Errorf("Host = %q, want spaced.example", req.Host)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ReadRequest(reader(tt.raw), NewBuffers())
			if err != nil {
				t.Fatalf("ReadRequest() error = %v", err)
			}
			tt.check(t, req)
		})
	}
}

func TestReadRequest_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"method exceeds buffer", strings.Repeat("M", MethodBufSize+1) + " / HTTP/1.1\r\n\r\n", ErrFieldTooLong},
		{"path exceeds buffer", "GET /" + strings.Repeat("a", PathBufSize) + " HTTP/1.1\r\n\r\n", ErrFieldTooLong},
		{"non-numeric content length", "GET / HTTP/1.1\r\nContent-Length: abc\r\n\r\n", ErrBadContentLength},
		{"premature end mid-head", "GET / HTTP/1.1\r\nHost: a", io.ErrUnexpectedEOF},
		{"empty stream", "", io.ErrUnexpectedEOF},
		{"missing line feed", "GET / HTTP/1.1\rX\r\n\r\n", ErrMalformedMessage},
		{"header without colon", "GET / HTTP/1.1\r\nNoColonHere\r\n\r\n", io.ErrUnexpectedEOF},
		{"empty request line fields", " / HTTP/1.1\r\n\r\n", ErrMalformedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRequest(reader(tt.raw), NewBuffers())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ReadRequest() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// Scratch buffers must survive reuse: parsing a second message with the
// same set must not corrupt fields of the first.
func TestReadRequest_BufferReuse(t *testing.T) {
	bufs := NewBuffers()

	first, err := ReadRequest(reader("GET /first HTTP/1.1\r\nHost: one\r\n\r\n"), bufs)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ReadRequest(reader("POST /second HTTP/1.1\r\nHost: two\r\n\r\n"), bufs)
	if err != nil {
		t.Fatal(err)
	}

	if first.Path != "/first" || first.Host != "one" {
		t.Errorf("first request corrupted by reuse: %+v", first)
	}
	if second.Path != "/second" || second.Host != "two" {
		t.Errorf("second request parsed wrong: %+v", second)
	}
}
