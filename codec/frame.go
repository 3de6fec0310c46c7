package codec

import (
	"strconv"

	"github.com/parallex/htexec/htexerr"
)

// PackBuffers concatenates buffers using the frame format mandated by
// spec.md §4.1: each buffer is prefixed by its decimal length in ASCII
// followed by a single '\n', then the raw bytes. No trailing separator.
func PackBuffers(buffers [][]byte) []byte {
	var size int
	for _, b := range buffers {
		size += len(strconv.Itoa(len(b))) + 1 + len(b)
	}

	out := make([]byte, 0, size)
	for _, b := range buffers {
		out = strconv.AppendInt(out, int64(len(b)), 10)
		out = append(out, '\n')
		out = append(out, b...)
	}
	return out
}

// UnpackBuffers reverses PackBuffers: split on the first '\n', parse the
// decimal length, consume exactly that many bytes, repeat until input is
// exhausted. Any malformed length field is htexerr.ErrFraming.
func UnpackBuffers(data []byte) ([][]byte, error) {
	out := make([][]byte, 0)
	for len(data) > 0 {
		nl := -1
		for i, c := range data {
			if c == '\n' {
				nl = i
				break
			}
		}
		if nl < 0 {
			return nil, htexerr.ErrFraming
		}

		n, err := strconv.Atoi(string(data[:nl]))
		if err != nil || n < 0 {
			return nil, htexerr.ErrFraming
		}

		data = data[nl+1:]
		if len(data) < n {
			return nil, htexerr.ErrFraming
		}

		buf := make([]byte, n)
		copy(buf, data[:n])
		out = append(out, buf)
		data = data[n:]
	}
	return out, nil
}
