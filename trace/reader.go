package trace

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/hearth/types"
)

// ErrUnsupportedFormat is returned for traces written by a newer recorder.
var ErrUnsupportedFormat = errors.New("unsupported trace format")

// Reader decodes records from a trace stream.
type Reader struct {
	zr     *zstd.Decoder
	dec    *msgpack.Decoder
	closer io.Closer
	header Record
}

// Open opens the trace at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader decodes a trace from src and checks its header.
func NewReader(src io.Reader) (*Reader, error) {
	zr, err := zstd.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	r := &Reader{zr: zr, dec: msgpack.NewDecoder(zr)}
	if err := r.dec.Decode(&r.header); err != nil {
		zr.Close()
		return nil, fmt.Errorf("read trace header: %w", err)
	}
	if r.header.Kind != KindHeader {
		zr.Close()
		return nil, fmt.Errorf("read trace header: got %q record", r.header.Kind)
	}
	if r.header.Format > types.TraceFormatVersion {
		zr.Close()
		return nil, fmt.Errorf("%w: %d (newest known %d)", ErrUnsupportedFormat, r.header.Format, types.TraceFormatVersion)
	}
	return r, nil
}

// Header returns the trace header. Source holds the recorder's version.
func (r *Reader) Header() Record { return r.header }

// Next returns the next record, or io.EOF at the end of the trace.
// A trace cut short by a crash ends with io.ErrUnexpectedEOF.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("decode trace record: %w", err)
	}
	return rec, nil
}

// Close releases the decoder and the file opened by Open.
func (r *Reader) Close() error {
	r.zr.Close()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Read decodes every record in the trace at path. When the trace is
// truncated, the records before the damage are returned with the error.
func Read(path string) ([]Record, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var records []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}
