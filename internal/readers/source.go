package readers

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Source is a named, reopenable byte stream. Readers call Open again to rewind.
type Source struct {
	Name string
	Open func() (io.ReadCloser, error)
}

func FileSource(path string) Source {
	return Source{
		Name: path,
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// BytesSource serves content already held in memory, such as sanitized file content.
func BytesSource(name string, data []byte) Source {
	return Source{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Extension returns the lower-case extension without the dot.
func (s Source) Extension() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(s.Name)), ".")
}
