package media

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	errs "github.com/Watson-Will/babel/pkg/errors"
)

func writeTestFile(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()

	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 251)
	}

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path, content
}

func TestStreamRangeFirstHundredBytes(t *testing.T) {
	path, content := writeTestFile(t, "movie.mp4", 1000)

	stream, err := StreamRange(path, "bytes=0-99", 0)
	if err != nil {
		t.Fatalf("StreamRange failed: %v", err)
	}
	defer stream.Close()

	if stream.Status != 206 {
		t.Errorf("status = %d, want 206", stream.Status)
	}
	if stream.ContentRange != "bytes 0-99/1000" {
		t.Errorf("Content-Range = %q, want %q", stream.ContentRange, "bytes 0-99/1000")
	}
	if stream.ContentLength != 1000 {
		t.Errorf("Content-Length = %d, want the total file length 1000", stream.ContentLength)
	}
	if stream.ContentType != "video/mp4" {
		t.Errorf("Content-Type = %q, want video/mp4", stream.ContentType)
	}

	body := make([]byte, 100)
	if _, err := io.ReadFull(stream.Body(), body); err != nil {
		t.Fatalf("reading body failed: %v", err)
	}
	if !bytes.Equal(body, content[:100]) {
		t.Error("first 100 body bytes do not match the source file")
	}
}

func TestStreamRangeDoesNotClampAtEnd(t *testing.T) {
	path, content := writeTestFile(t, "movie.mp4", 1000)

	stream, err := StreamRange(path, "bytes=0-99", 0)
	if err != nil {
		t.Fatalf("StreamRange failed: %v", err)
	}
	defer stream.Close()

	// The documented contract: the reader continues past End until the file
	// is exhausted. Callers wanting exact slices stop at End-Start+1 bytes.
	body, err := io.ReadAll(stream.Body())
	if err != nil {
		t.Fatalf("reading body failed: %v", err)
	}
	if !bytes.Equal(body, content) {
		t.Errorf("body length = %d, want the full remaining file (%d bytes)", len(body), len(content))
	}
}

func TestStreamRangeOffsetStart(t *testing.T) {
	path, content := writeTestFile(t, "movie.mp4", 1000)

	stream, err := StreamRange(path, "bytes=500-", 64)
	if err != nil {
		t.Fatalf("StreamRange failed: %v", err)
	}
	defer stream.Close()

	if stream.ContentRange != "bytes 500-999/1000" {
		t.Errorf("Content-Range = %q, want %q", stream.ContentRange, "bytes 500-999/1000")
	}

	body, err := io.ReadAll(stream.Body())
	if err != nil {
		t.Fatalf("reading body failed: %v", err)
	}
	if !bytes.Equal(body, content[500:]) {
		t.Error("body does not match the file from the range start")
	}
}

func TestStreamRangeNoHeaderServesWholeFile(t *testing.T) {
	path, content := writeTestFile(t, "movie.mp4", 1000)

	stream, err := StreamRange(path, "", 0)
	if err != nil {
		t.Fatalf("StreamRange failed: %v", err)
	}
	defer stream.Close()

	if stream.Status != 206 {
		t.Errorf("status = %d, want 206 (always partial by contract)", stream.Status)
	}
	if stream.ContentRange != "bytes 0-999/1000" {
		t.Errorf("Content-Range = %q, want %q", stream.ContentRange, "bytes 0-999/1000")
	}

	body, err := io.ReadAll(stream.Body())
	if err != nil {
		t.Fatalf("reading body failed: %v", err)
	}
	if !bytes.Equal(body, content) {
		t.Error("body does not match the whole file")
	}
}

func TestStreamRangeInvalidRanges(t *testing.T) {
	path, _ := writeTestFile(t, "movie.mp4", 1000)

	tests := []struct {
		name   string
		header string
	}{
		{name: "end beyond length", header: "bytes=990-1200"},
		{name: "start after end", header: "bytes=500-100"},
		{name: "start beyond length", header: "bytes=2000-"},
		{name: "end equals length", header: "bytes=0-1000"},
		{name: "garbage start", header: "bytes=abc-100"},
		{name: "garbage end", header: "bytes=0-xyz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := StreamRange(path, tt.header, 0)
			var rangeErr *errs.InvalidRange
			if !errors.As(err, &rangeErr) {
				t.Errorf("header %q: expected InvalidRange, got %v", tt.header, err)
			}
		})
	}
}

func TestStreamRangeMissingFile(t *testing.T) {
	_, err := StreamRange(filepath.Join(t.TempDir(), "nope.mp4"), "", 0)
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if !os.IsNotExist(err) {
		t.Errorf("expected a not-found error, got %v", err)
	}
}

func TestContentTypeResolution(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "index.html", want: "text/html"},
		{path: "a/b/clip.mp4", want: "video/mp4"},
		{path: "photo.jpeg", want: "image/jpeg"},
		{path: "photo.jpg", want: "image/jpeg"},
		{path: "doc.pdf", want: "application/pdf"},
		{path: "video.mkv", want: "video/x-matroska"},
		{path: "archive.tar.gz", want: UnknownContentType},
		{path: "UPPER.MP4", want: UnknownContentType}, // case-sensitive enumeration
		{path: "noextension", want: UnknownContentType},
	}

	for _, tt := range tests {
		if got := ContentType(tt.path); got != tt.want {
			t.Errorf("ContentType(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}

	if UnknownContentType == "" {
		t.Fatal("unknown content type sentinel must be non-empty")
	}
}
