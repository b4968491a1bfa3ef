package registry

import "fmt"

var (
	StreamNotExist      = "StreamNotExist"
	MountPointDuplicate = "MountPointDuplicate"
	MountPointInvalid   = "MountPointInvalid"
)

type StreamNotFound struct {
	MountPoint string
}

func (e StreamNotFound) Error() string {
	return fmt.Sprintf("%s: %s", StreamNotExist, e.MountPoint)
}

// DuplicateMountPoint is returned when a mount point is registered twice.
// The descriptor registered first is kept.
type DuplicateMountPoint struct {
	MountPoint string
}

func (e DuplicateMountPoint) Error() string {
	return fmt.Sprintf("%s: %s is already registered", MountPointDuplicate, e.MountPoint)
}

type InvalidMountPoint struct {
	MountPoint string
}

func (e InvalidMountPoint) Error() string {
	return fmt.Sprintf("%s: %q must start with /", MountPointInvalid, e.MountPoint)
}
