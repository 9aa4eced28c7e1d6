// Package reader turns raw sensor export files into measurement frames and
// parameter metadata. Dispatch is by data-source key: each concrete reader
// owns the parsing contract for exactly one export format, and new formats
// are added by registering a new implementation.
package reader

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/xtxerr/sensorlake/internal/errors"
	"github.com/xtxerr/sensorlake/internal/frame"
)

// Reader parses one export format from a decoded byte stream.
type Reader interface {
	Read(r io.Reader) (*frame.Frame, []frame.ParameterMeta, error)
}

// Registry maps data-source keys to reader implementations.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	readers map[string]Reader
}

// NewRegistry creates a registry with the built-in readers registered.
func NewRegistry() *Registry {
	r := &Registry{readers: make(map[string]Reader)}
	r.Register("pi", &PIReader{})
	return r
}

// Register adds or replaces the reader for a data-source key.
func (r *Registry) Register(key string, rd Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[key] = rd
}

// Get returns the reader for a data-source key.
func (r *Registry) Get(key string) (Reader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rd, ok := r.readers[key]
	if !ok {
		return nil, errors.UnsupportedSource(key)
	}
	return rd, nil
}

// ReadFile opens path, applies the character encoding, and parses it with
// the reader registered for dataSource.
func (r *Registry) ReadFile(path, dataSource, encoding string) (*frame.Frame, []frame.ParameterMeta, error) {
	rd, err := r.Get(dataSource)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	decoded, err := decode(f, encoding)
	if err != nil {
		return nil, nil, err
	}

	return rd.Read(decoded)
}

// decode wraps r with a character decoder for the named encoding.
// Plant-floor exports are commonly CP932; anything else is expected to
// already be UTF-8.
func decode(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(encoding) {
	case "", "utf-8", "utf8":
		return r, nil
	case "shift_jis", "shift-jis", "sjis", "cp932", "ms932":
		return transform.NewReader(r, japanese.ShiftJIS.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("%w: unsupported encoding %q", errors.ErrInvalidConfig, encoding)
	}
}
