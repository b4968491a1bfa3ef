package apiserver

import (
	"github.com/kbats183/multi-stream-server/pkg/registry"
	"github.com/kbats183/multi-stream-server/pkg/rtspserver"
)

// StatusProvider reports runtime state of mounted streams.
type StatusProvider interface {
	GetStatus(mount string) (*rtspserver.StreamStatus, bool)
}

// ConnectionCounter exposes the tracker's counter read-only.
type ConnectionCounter interface {
	Count() uint64
}

type Stream struct {
	MountPoint string                   `json:"mount_point"`
	Pipeline   string                   `json:"pipeline"`
	Shared     bool                     `json:"shared"`
	Status     *rtspserver.StreamStatus `json:"status,omitempty"`
}

type Connections struct {
	Total uint64 `json:"total"`
}

func streamFromRegistryObject(d *registry.StreamDescriptor, status StatusProvider) *Stream {
	s := &Stream{MountPoint: d.MountPoint, Pipeline: d.Pipeline, Shared: d.Shared}
	if status != nil {
		if st, ok := status.GetStatus(d.MountPoint); ok {
			s.Status = st
		}
	}
	return s
}
