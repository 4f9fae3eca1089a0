package handlers

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	requestBufferSize  = 4 << 10  // Typical fetch request
	responseBufferSize = 64 << 10 // Rendered pages are rarely smaller
)

// jsonBufferPool holds request body buffers.
var jsonBufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, requestBufferSize))
	},
}

func getBuffer() *bytes.Buffer {
	v := jsonBufferPool.Get()
	buf, ok := v.(*bytes.Buffer)
	if !ok {
		log.Warn().Interface("got_type", v).Msg("Unexpected type from json buffer pool")
		return bytes.NewBuffer(make([]byte, 0, requestBufferSize))
	}
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	buf.Reset()
	jsonBufferPool.Put(buf)
}

// responseBufferPool holds encoded response buffers.
var responseBufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, responseBufferSize))
	},
}

func getResponseBuffer() *bytes.Buffer {
	v := responseBufferPool.Get()
	buf, ok := v.(*bytes.Buffer)
	if !ok {
		log.Warn().Interface("got_type", v).Msg("Unexpected type from response buffer pool")
		return bytes.NewBuffer(make([]byte, 0, responseBufferSize))
	}
	return buf
}

// putResponseBuffer drops oversized buffers so one huge page does not pin memory.
func putResponseBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 4*maxBodySize {
		return
	}
	buf.Reset()
	responseBufferPool.Put(buf)
}
