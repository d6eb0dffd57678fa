package contestfs

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/beam-cloud/contestfs/pkg/contest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMountServesTree(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping FUSE mount test in short mode")
	}
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("Skipping FUSE test: /dev/fuse not available")
	}
	if _, err := exec.LookPath("fusermount"); err != nil {
		if _, err := exec.LookPath("fusermount3"); err != nil {
			t.Skip("Skipping FUSE test: fusermount not available")
		}
	}

	mountPoint := filepath.Join(t.TempDir(), "mnt")
	st := contest.New(newFakeRemote(), contest.Options{})

	start, errs, server, err := Mount(MountOptions{MountPoint: mountPoint, State: st})
	if err != nil {
		t.Skipf("Cannot mount FUSE: %v", err)
	}
	require.NoError(t, start())

	select {
	case err := <-errs:
		if err != nil {
			t.Skipf("FUSE mount error: %v", err)
		}
	case <-time.After(100 * time.Millisecond):
	}
	defer func() {
		require.NoError(t, server.Unmount())
		<-errs
	}()

	data, err := os.ReadFile(filepath.Join(mountPoint, "contests"))
	require.NoError(t, err)
	assert.Equal(t, "1\tWarmup\n", string(data))

	ents, err := os.ReadDir(filepath.Join(mountPoint, "1", "runs", "5", "tests", "2"))
	require.NoError(t, err)
	var got []string
	for _, e := range ents {
		got = append(got, e.Name())
	}
	assert.Equal(t, []string{"input", "output"}, got)

	src := filepath.Join(mountPoint, "1", "problems", "1", "submit", "python3", "a.py")
	require.NoError(t, os.WriteFile(src, []byte("print(4)\n"), 0o644))
	require.Eventually(t, func() bool { return st.Queue.Len() == 1 }, time.Second, 10*time.Millisecond)

	_, err = os.Stat(filepath.Join(mountPoint, "1", "problems", "1", "submit", "gcc"))
	assert.True(t, os.IsNotExist(err))
}
