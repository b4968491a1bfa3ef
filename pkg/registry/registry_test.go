package registry

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbats183/multi-stream-server/pkg/config"
)

func TestRegister_Resolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("/cam1", "videotestsrc ! x264enc"))

	d, err := r.Resolve("/cam1")
	require.NoError(t, err)
	assert.Equal(t, &StreamDescriptor{MountPoint: "/cam1", Pipeline: "videotestsrc ! x264enc", Shared: true}, d)
}

func TestResolve_NotFound(t *testing.T) {
	r := NewRegistry()
	d, err := r.Resolve("/missing")
	assert.Nil(t, d)
	assert.ErrorIs(t, err, StreamNotFound{MountPoint: "/missing"})
}

func TestRegister_DuplicateRejectedFirstKept(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("/cam1", "first"))

	err := r.Register("/cam1", "second")
	assert.ErrorIs(t, err, DuplicateMountPoint{MountPoint: "/cam1"})

	d, err := r.Resolve("/cam1")
	require.NoError(t, err)
	assert.Equal(t, "first", d.Pipeline)
	assert.Equal(t, 1, r.Len())
}

func TestRegister_InvalidMountPoint(t *testing.T) {
	r := NewRegistry()
	err := r.Register("cam1", "spec")
	var invalid InvalidMountPoint
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "cam1", invalid.MountPoint)
	assert.Equal(t, 0, r.Len())
}

func TestGetStreams_RegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, m := range []string{"/z", "/a", "/m"} {
		require.NoError(t, r.Register(m, "spec"+m))
	}

	var got []string
	for _, d := range r.GetStreams() {
		got = append(got, d.MountPoint)
		assert.True(t, d.Shared)
	}
	assert.Equal(t, []string{"/z", "/a", "/m"}, got)
}

func TestBuild_NPairsGiveNEntries(t *testing.T) {
	for n := 1; n <= 16; n++ {
		pairs := make([]config.StreamPair, n)
		for i := range pairs {
			pairs[i] = config.StreamPair{MountPoint: fmt.Sprintf("/cam%d", i), Pipeline: fmt.Sprintf("spec%d", i)}
		}

		r, err := Build(pairs)
		require.NoError(t, err)
		require.Equal(t, n, r.Len())
		for _, p := range pairs {
			d, err := r.Resolve(p.MountPoint)
			require.NoError(t, err)
			assert.Equal(t, p.Pipeline, d.Pipeline)
		}
	}
}

func TestBuild_CollectsEveryRejection(t *testing.T) {
	r, err := Build([]config.StreamPair{
		{MountPoint: "/a", Pipeline: "1"},
		{MountPoint: "/a", Pipeline: "2"},
		{MountPoint: "b", Pipeline: "3"},
		{MountPoint: "/c", Pipeline: "4"},
	})
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2)
	assert.ErrorIs(t, err, DuplicateMountPoint{MountPoint: "/a"})

	assert.Equal(t, 2, r.Len())
	d, _ := r.Resolve("/a")
	assert.Equal(t, "1", d.Pipeline)
}
