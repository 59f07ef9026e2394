package walletcrypto

import (
	"runtime"
	"sync"
)

// SecureBytes holds sensitive bytes in mlocked memory and zeroes them on Destroy.
type SecureBytes struct {
	mu     sync.Mutex
	data   []byte
	locked bool
}

// NewSecureBytes allocates size bytes, locking them in memory when the OS allows it.
func NewSecureBytes(size int) *SecureBytes {
	sb := &SecureBytes{data: make([]byte, size)}
	sb.locked = mlock(sb.data)

	runtime.SetFinalizer(sb, func(s *SecureBytes) {
		s.Destroy()
	})

	return sb
}

// SecureBytesFromSlice copies data into a new SecureBytes.
// The caller remains responsible for wiping data.
func SecureBytesFromSlice(data []byte) *SecureBytes {
	sb := NewSecureBytes(len(data))
	copy(sb.data, data)
	return sb
}

// Bytes returns the protected slice, or nil after Destroy.
// The slice must not be retained past the owner's lifetime.
func (s *SecureBytes) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// IsLocked reports whether the memory is mlocked.
func (s *SecureBytes) IsLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Len returns the length of the data.
func (s *SecureBytes) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Destroy zeroes and unlocks the memory. Safe to call multiple times.
func (s *SecureBytes) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return
	}

	ZeroBytes(s.data)
	if s.locked {
		munlock(s.data)
		s.locked = false
	}
	s.data = nil

	runtime.SetFinalizer(s, nil)
}

// ZeroBytes overwrites b with zeros.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
