package lineio

import (
	"bufio"
	"errors"
	"strings"
	"testing"
)

func TestReadLine_CRLF(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("EHLO mail.example.com\r\nQUIT\r\n"))

	line, err := ReadLine(r, 1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(line) != "EHLO mail.example.com" {
		t.Fatalf("got %q", line)
	}

	line, err = ReadLine(r, 1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(line) != "QUIT" {
		t.Fatalf("got %q", line)
	}
}

func TestReadLine_LoneLFTolerated(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("NOOP\n"))
	line, err := ReadLine(r, 1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(line) != "NOOP" {
		t.Fatalf("got %q, want NOOP", line)
	}
}

func TestReadLine_TooLong(t *testing.T) {
	long := strings.Repeat("A", 100) + "\r\n"
	r := bufio.NewReader(strings.NewReader(long))
	_, err := ReadLine(r, 10)
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
}

func TestReadLine_TooLong_ResyncsOnNextLine(t *testing.T) {
	input := strings.Repeat("A", 100) + "\r\nQUIT\r\n"
	r := bufio.NewReader(strings.NewReader(input))

	if _, err := ReadLine(r, 10); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}

	line, err := ReadLine(r, 1024)
	if err != nil {
		t.Fatalf("unexpected error resyncing: %v", err)
	}
	if string(line) != "QUIT" {
		t.Fatalf("got %q, want QUIT after resync", line)
	}
}

func TestReadLine_SpansBufferBoundary(t *testing.T) {
	long := strings.Repeat("B", 8000) + "\r\n"
	r := bufio.NewReaderSize(strings.NewReader(long), 16)

	line, err := ReadLine(r, 9000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(line) != 8000 {
		t.Fatalf("got line of length %d, want 8000", len(line))
	}
}
