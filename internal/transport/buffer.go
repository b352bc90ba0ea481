package transport

import (
	"sync"

	"github.com/joshuafuller/dnssd/internal/protocol"
)

// bufferPool recycles receive buffers sized for the largest mDNS message.
var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, protocol.MaxMessageSize)
		return &buf
	},
}

// GetBuffer returns a receive buffer from the pool.
func GetBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// PutBuffer returns a buffer obtained from GetBuffer.
func PutBuffer(buf *[]byte) {
	if buf == nil || cap(*buf) < protocol.MaxMessageSize {
		return
	}
	*buf = (*buf)[:protocol.MaxMessageSize]
	bufferPool.Put(buf)
}
