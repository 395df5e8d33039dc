package pool

import (
	"bytes"
	"sync"
)

// Буферы, разросшиеся сверх этого предела, в пул не возвращаются,
// чтобы пул не удерживал пиковую память
const maxPooledBufferSize = 64 * 1024

// Buffers глобальный пул байтовых буферов для сериализации ответов
var Buffers = &BufferPool{
	pool: sync.Pool{
		New: func() interface{} {
			return bytes.NewBuffer(make([]byte, 0, 256))
		},
	},
}

// BufferPool пул bytes.Buffer. Get возвращает пустой буфер с
// сохраненной емкостью, Put отдает буфер обратно.
type BufferPool struct {
	pool sync.Pool
}

// Get возвращает пустой буфер
func (p *BufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put возвращает буфер в пул
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBufferSize {
		return
	}
	p.pool.Put(buf)
}
