package media

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	errs "github.com/Watson-Will/babel/pkg/errors"
)

const DefaultChunkSize = 1024 * 1024

// Stream is one partial-content response over a local file. The byte sequence
// is finite and not restartable: a new StreamRange call is needed to restream.
//
// Contract: the reader starts at Start and does NOT clamp at End. It keeps
// reading until the underlying file is exhausted, so a caller that wants an
// exact-length slice must stop consuming after End-Start+1 bytes. This
// mirrors the reference wire behavior for range requests near end of file and
// is kept deliberately.
type Stream struct {
	Status        int
	ContentType   string
	ContentLength int64
	ContentRange  string
	Start         int64
	End           int64

	reader *chunkReader
}

type chunkReader struct {
	file *os.File
	pos  int64
	buf  []byte
	off  int
	end  int
}

// StreamRange opens path and prepares a partial-content stream honoring
// rangeHeader ("bytes=<start>-[<end>]", empty for the whole file). The
// response is always 206 with an explicit Content-Range, matching the
// reference behavior for absent range headers.
func StreamRange(path string, rangeHeader string, chunkSize int) (*Stream, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	length := info.Size()

	start, end, err := resolveRange(rangeHeader, length)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Stream{
		Status:        206,
		ContentType:   ContentType(path),
		ContentLength: length,
		ContentRange:  fmt.Sprintf("bytes %d-%d/%d", start, end, length),
		Start:         start,
		End:           end,
		reader: &chunkReader{
			file: file,
			pos:  start,
			buf:  make([]byte, chunkSize),
		},
	}, nil
}

func resolveRange(rangeHeader string, length int64) (start, end int64, err error) {
	if rangeHeader == "" {
		return 0, length - 1, nil
	}

	spec := strings.TrimSpace(strings.TrimPrefix(rangeHeader, "bytes="))
	startRaw, endRaw, _ := strings.Cut(spec, "-")

	start, err = strconv.ParseInt(startRaw, 10, 64)
	if err != nil {
		return 0, 0, &errs.InvalidRange{RawHeader: rangeHeader, Length: length}
	}

	end = length - 1
	if endRaw != "" {
		end, err = strconv.ParseInt(endRaw, 10, 64)
		if err != nil {
			return 0, 0, &errs.InvalidRange{RawHeader: rangeHeader, Length: length}
		}
	}

	if start > length || start > end || end >= length {
		return 0, 0, &errs.InvalidRange{RawHeader: rangeHeader, Length: length}
	}

	return start, end, nil
}

// Read hands out the file in fixed-size chunks from an internal cursor. Read
// errors propagate as stream-terminating errors; a zero-byte read ends the
// stream.
func (r *chunkReader) Read(p []byte) (int, error) {
	if r.off == r.end {
		n, err := r.file.ReadAt(r.buf, r.pos)
		if n == 0 {
			if err == nil || err == io.EOF {
				return 0, io.EOF
			}
			return 0, err
		}
		r.pos += int64(n)
		r.off = 0
		r.end = n
	}

	n := copy(p, r.buf[r.off:r.end])
	r.off += n
	return n, nil
}

// Close releases the underlying file handle. It is safe on every exit path:
// normal completion, read error, or abandonment.
func (r *chunkReader) Close() error {
	return r.file.Close()
}

func (s *Stream) Body() io.ReadCloser {
	return s.reader
}

// Close abandons the stream and releases the file handle.
func (s *Stream) Close() error {
	return s.reader.Close()
}
