package registry

import (
	"sort"
	"sync"
	"time"
)

// MemoryRegistry Address-of-Record registry using memory. Expired
// contacts are dropped when looked at.
type MemoryRegistry struct {
	mutex *sync.Mutex
	aors  map[string]map[string]*ContactInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		aors:  make(map[string]map[string]*ContactInstance),
		mutex: new(sync.Mutex),
	}
}

func (mr *MemoryRegistry) UpdateContact(aor string, instance *ContactInstance) error {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()
	instances, ok := mr.aors[aor]
	if !ok {
		instances = make(map[string]*ContactInstance)
		mr.aors[aor] = instances
	}
	instances[instance.Key()] = instance
	return nil
}

func (mr *MemoryRegistry) RemoveContact(aor string, instance *ContactInstance) error {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()
	if instances, ok := mr.aors[aor]; ok {
		delete(instances, instance.Key())
		if len(instances) == 0 {
			delete(mr.aors, aor)
		}
	}
	return nil
}

func (mr *MemoryRegistry) RemoveAor(aor string) error {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()
	delete(mr.aors, aor)
	return nil
}

func (mr *MemoryRegistry) AorIsRegistered(aor string, now time.Time) bool {
	return len(mr.GetContacts(aor, now)) > 0
}

// GetContacts lists the live contacts of aor, longest lived first.
func (mr *MemoryRegistry) GetContacts(aor string, now time.Time) []*ContactInstance {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()
	return mr.liveLocked(aor, now)
}

func (mr *MemoryRegistry) GetAllContacts(now time.Time) map[string][]*ContactInstance {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()
	out := make(map[string][]*ContactInstance, len(mr.aors))
	for aor := range mr.aors {
		if live := mr.liveLocked(aor, now); len(live) > 0 {
			out[aor] = live
		}
	}
	return out
}

func (mr *MemoryRegistry) liveLocked(aor string, now time.Time) []*ContactInstance {
	instances := mr.aors[aor]
	var out []*ContactInstance
	for key, c := range instances {
		if !now.Before(c.Expires) {
			delete(instances, key)
			continue
		}
		out = append(out, c)
	}
	if len(instances) == 0 {
		delete(mr.aors, aor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Expires.After(out[j].Expires) })
	return out
}
