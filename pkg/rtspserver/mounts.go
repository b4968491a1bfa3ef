package rtspserver

import (
	"strings"
	"sync"
)

// mountPoints matches request paths to producers the way RTSP mount points
// do: the longest mount that equals the path or is a prefix of it ending on
// a "/" boundary wins, so "/cam1/trackID=0" resolves to "/cam1".
type mountPoints struct {
	mu        sync.RWMutex
	producers map[string]*MediaProducer
	order     []string
}

func newMountPoints() *mountPoints {
	return &mountPoints{producers: make(map[string]*MediaProducer)}
}

func (m *mountPoints) add(path string, p *MediaProducer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.producers[path]; ok {
		return false
	}
	m.producers[path] = p
	m.order = append(m.order, path)
	return true
}

func (m *mountPoints) get(path string) *MediaProducer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.producers[path]
}

func (m *mountPoints) match(path string) *MediaProducer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best string
	found := false
	for mount := range m.producers {
		if !mountMatches(mount, path) {
			continue
		}
		if !found || len(mount) > len(best) {
			best = mount
			found = true
		}
	}
	if !found {
		return nil
	}
	return m.producers[best]
}

func (m *mountPoints) all() []*MediaProducer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*MediaProducer, 0, len(m.order))
	for _, path := range m.order {
		list = append(list, m.producers[path])
	}
	return list
}

func mountMatches(mount, path string) bool {
	if path == mount {
		return true
	}
	if !strings.HasPrefix(path, mount) {
		return false
	}
	return strings.HasSuffix(mount, "/") || path[len(mount)] == '/'
}
