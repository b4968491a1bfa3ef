package registry

// StreamDescriptor binds a mount point to the pipeline description that
// backs it. Descriptors are immutable once registered.
type StreamDescriptor struct {
	MountPoint string `json:"mount_point"`
	Pipeline   string `json:"pipeline"`
	Shared     bool   `json:"shared"`
}

type Registry interface {
	Register(mountPoint, pipeline string) error
	Resolve(mountPoint string) (*StreamDescriptor, error)
	// GetStreams returns descriptors in registration order.
	GetStreams() []*StreamDescriptor
	Len() int
}
