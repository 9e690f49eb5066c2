package util

import (
	"bufio"
	"io"
	"sync"
)

// DefaultBufSize is the read buffer size used for each connection (4 KiB).
// Lines longer than the buffer are still accepted; they are assembled
// from several buffer fills.
const DefaultBufSize = 4 * 1024

// readerPool recycles bufio.Readers across connections, reducing GC
// pressure when many short-lived clients come and go.
var readerPool = sync.Pool{
	New: func() interface{} {
		return bufio.NewReaderSize(nil, DefaultBufSize)
	},
}

// GetReader retrieves a buffered reader bound to src.  Callers must
// return it with [PutReader] when finished.
func GetReader(src io.Reader) *bufio.Reader {
	r := readerPool.Get().(*bufio.Reader)
	r.Reset(src)
	return r
}

// PutReader detaches r from its source and returns it to the pool.
func PutReader(r *bufio.Reader) {
	if r == nil {
		return
	}
	r.Reset(nil)
	readerPool.Put(r)
}
