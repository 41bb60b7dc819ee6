package devices

import "sync"

// Keyboard registers.
const (
	KeyPending = 0x00 // read: number of queued keys
	KeyNext    = 0x08 // read: dequeue the next key, 0 when empty
)

// KeyQueueLen bounds the pending keys; further presses are dropped.
const KeyQueueLen = 256

// Keyboard is a FIFO of key codes fed by the host.
type Keyboard struct {
	window
	mu    sync.Mutex
	queue []byte
}

func NewKeyboard(base uint64) *Keyboard {
	return &Keyboard{window: window{name: "keyboard", base: base}}
}

// Push queues a key. It reports false when the queue is full.
func (k *Keyboard) Push(key byte) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.queue) >= KeyQueueLen {
		return false
	}
	k.queue = append(k.queue, key)
	return true
}

func (k *Keyboard) Pending() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.queue)
}

func (k *Keyboard) Read(offset uint64, width int) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	switch offset {
	case KeyPending:
		return uint64(len(k.queue))
	case KeyNext:
		if len(k.queue) == 0 {
			return 0
		}
		key := k.queue[0]
		k.queue = k.queue[1:]
		return uint64(key)
	}
	return 0
}

func (k *Keyboard) Write(offset uint64, width int, v uint64) {}
