package registry

import (
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/kbats183/multi-stream-server/pkg/config"
)

type registryImpl struct {
	keys  map[string]*StreamDescriptor
	order []string
	mux   sync.RWMutex
}

func (r *registryImpl) Register(mountPoint, pipeline string) error {
	if !strings.HasPrefix(mountPoint, "/") {
		return InvalidMountPoint{MountPoint: mountPoint}
	}

	r.mux.Lock()
	defer r.mux.Unlock()
	if _, ok := r.keys[mountPoint]; ok {
		return DuplicateMountPoint{MountPoint: mountPoint}
	}
	r.keys[mountPoint] = &StreamDescriptor{
		MountPoint: mountPoint,
		Pipeline:   pipeline,
		Shared:     true,
	}
	r.order = append(r.order, mountPoint)
	return nil
}

func (r *registryImpl) Resolve(mountPoint string) (*StreamDescriptor, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	if d, ok := r.keys[mountPoint]; ok {
		return d, nil
	}
	return nil, StreamNotFound{MountPoint: mountPoint}
}

func (r *registryImpl) GetStreams() []*StreamDescriptor {
	r.mux.RLock()
	defer r.mux.RUnlock()
	streams := make([]*StreamDescriptor, 0, len(r.order))
	for _, name := range r.order {
		streams = append(streams, r.keys[name])
	}
	return streams
}

func (r *registryImpl) Len() int {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return len(r.order)
}

func NewRegistry() Registry {
	return &registryImpl{
		keys: make(map[string]*StreamDescriptor),
	}
}

// Build registers every pair in order. Rejected pairs are skipped and all
// rejections are returned together; the registry holds the accepted ones.
func Build(pairs []config.StreamPair) (Registry, error) {
	r := NewRegistry()
	var result *multierror.Error
	for _, p := range pairs {
		if err := r.Register(p.MountPoint, p.Pipeline); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return r, result.ErrorOrNil()
}
