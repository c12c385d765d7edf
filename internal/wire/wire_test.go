package wire

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func reader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestReadField(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		bufSize int
		delim   byte
		want    string
		wantErr error
	}{
		{"space delimited", "GET /", 32, ' ', "GET", nil},
		{"colon delimited", "Content-Length: 5", 64, ':', "Content-Length", nil},
		{"cr delimited", "OK\r\n", 16, '\r', "OK", nil},
		{"empty field", " rest", 8, ' ', "", nil},
		{"exact fit", "ABCD ", 4, ' ', "ABCD", nil},
		{"one over capacity", "ABCDE ", 4, ' ', "", ErrFieldTooLong},
		{"eof before delimiter", "GET", 32, ' ', "", io.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readField(reader(tt.input), make([]byte, tt.bufSize), tt.delim)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("readField() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && string(got) != tt.want {
				t.Errorf("readField() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadField_DoesNotConsumeDelimiter(t *testing.T) {
	r := reader("GET /path")
	if _, err := readField(r, make([]byte, 8), ' '); err != nil {
		t.Fatal(err)
	}
	rest, _ := io.ReadAll(r)
	if string(rest) != "/path" {
		t.Errorf("remaining stream = %q, want %q", rest, "/path")
	}
}

func TestEqualFold(t *testing.T) {
	tests := []struct {
		b    string
		s    string
		want bool
	}{
		{"Content-Length", "content-length", true},
		{"CONTENT-LENGTH", "Content-Length", true},
		{"Host", "Host", true},
		{"Host", "Hosts", false},
		{"", "", true},
		{"X", "Y", false},
	}

	for _, tt := range tests {
		if got := equalFold([]byte(tt.b), tt.s); got != tt.want {
			t.Errorf("equalFold(%q, %q) = %v, want %v", tt.b, tt.s, got, tt.want)
		}
	}
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"0", 0, false},
		{"42", 42, false},
		{"1048576", 1048576, false},
		{"", 0, true},
		{"-1", 0, true},
		{"12a", 0, true},
		{" 5", 0, true},
		{"99999999999999999999", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDecimal([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDecimal(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("parseDecimal(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestTokenListContains(t *testing.T) {
	tests := []struct {
		value string
		token string
		want  bool
	}{
		{"close", "close", true},
		{"Close", "close", true},
		{"keep-alive", "close", false},
		{"keep-alive, Upgrade", "upgrade", true},
		{"gzip, chunked", "chunked", true},
		{"chunky", "chunked", false},
		{"", "close", false},
	}

	for _, tt := range tests {
		if got := tokenListContains([]byte(tt.value), tt.token); got != tt.want {
			t.Errorf("tokenListContains(%q, %q) = %v, want %v", tt.value, tt.token, got, tt.want)
		}
	}
}
