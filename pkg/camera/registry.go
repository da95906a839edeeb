package camera

import (
	"fmt"
	"sync"
)

// Registry hands out exclusive leases on device indexes so that no two
// sessions capture from the same device.
type Registry struct {
	mu     sync.Mutex
	leases map[int]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{leases: make(map[int]string)}
}

// Acquire leases device to owner. The returned release function is safe to
// call more than once.
func (r *Registry) Acquire(device int, owner string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.leases[device]; ok {
		return nil, fmt.Errorf("%w: held by %s", ErrDeviceBusy, holder)
	}
	r.leases[device] = owner

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if r.leases[device] == owner {
				delete(r.leases, device)
			}
			r.mu.Unlock()
		})
	}, nil
}

// Holder returns the owner of device, if leased.
func (r *Registry) Holder(device int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.leases[device]
	return owner, ok
}

// Active returns the number of leased devices.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.leases)
}
