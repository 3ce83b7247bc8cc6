package modem

import "sync"

// fakePort is a scripted stand-in for a serial port: writes are
// recorded, reads are served from a queue the test fills ahead of time.
// A read with nothing queued returns (0, nil), mirroring a real serial
// port's read-timeout behavior.
type fakePort struct {
	mu      sync.Mutex
	writes  [][]byte
	toRead  []byte
	closed  bool
	onWrite func(w []byte) []byte // optional: script a response per write
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), p...)
	f.writes = append(f.writes, cp)
	if f.onWrite != nil {
		f.toRead = append(f.toRead, f.onWrite(cp)...)
	}
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.toRead) == 0 {
		return 0, nil
	}
	n := copy(p, f.toRead)
	f.toRead = f.toRead[n:]
	return n, nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePort) queueRead(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toRead = append(f.toRead, b...)
}

func (f *fakePort) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}
