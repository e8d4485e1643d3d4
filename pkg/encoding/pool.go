// Package encoding pools buffers for hot-path JSON serialization. Every
// webhook delivery marshals one event envelope; pooling keeps burst load
// from churning allocations.
package encoding

import (
	"bytes"
	"encoding/json"
	"sync"
)

// Buffers that grew past this stay out of the pool so one outlier payload
// does not pin its memory for the life of the process.
const maxPooledBufferSize = 64 * 1024

var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// EncodeJSON marshals v through a pooled buffer and returns a copy of the
// bytes. The trailing newline json.Encoder appends is trimmed, so HMAC
// signatures cover exactly the payload receivers read.
func EncodeJSON(v interface{}) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		if buf.Cap() <= maxPooledBufferSize {
			bufferPool.Put(buf)
		}
	}()

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}

	out := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}
