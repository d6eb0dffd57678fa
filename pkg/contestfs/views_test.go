package contestfs

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/beam-cloud/contestfs/pkg/common"
	"github.com/beam-cloud/contestfs/pkg/contest"
	"github.com/beam-cloud/contestfs/pkg/filestore"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func read(t *testing.T, c child) string {
	t.Helper()
	require.NotNil(t, c.content)
	data, err := c.content(context.Background())
	require.NoError(t, err)
	return string(data)
}

func TestRootListsContests(t *testing.T) {
	fsys, _, _ := newTestFS(t, filestore.Options{})

	assert.Equal(t, []string{"contests", "1"}, names(t, fsys.root.shape))
	assert.Contains(t, read(t, walk(t, fsys, "/contests")), "1\tWarmup")

	c := walk(t, fsys, "/1")
	require.NotNil(t, c.shape)
	assert.Equal(t, []string{"info", "log", "problems", "runs"}, names(t, c.shape))

	for _, missing := range []string{"/2", "/01", "/-1", "/abc"} {
		_, err := tryWalk(fsys, missing)
		assert.ErrorIs(t, err, common.ErrNotFound, missing)
	}
}

func TestContestFiles(t *testing.T) {
	fsys, remote, _ := newTestFS(t, filestore.Options{})

	info := read(t, walk(t, fsys, "/1/info"))
	assert.Contains(t, info, "name: Warmup")
	assert.Contains(t, info, "python3")

	log := read(t, walk(t, fsys, "/1/log"))
	assert.Contains(t, log, "run")
	assert.Contains(t, log, "5")

	// One session serves both views.
	assert.Equal(t, 1, remote.calls["login"])
}

func TestProblemTree(t *testing.T) {
	fsys, _, _ := newTestFS(t, filestore.Options{})

	assert.Equal(t, []string{"1"}, names(t, walk(t, fsys, "/1/problems").shape))
	assert.Equal(t, []string{"info", "statement.html", "submit"}, names(t, walk(t, fsys, "/1/problems/1").shape))
	assert.Equal(t, "<p>Sum two numbers</p>", read(t, walk(t, fsys, "/1/problems/1/statement.html")))

	// Only the languages the problem accepts get a staging directory.
	assert.Equal(t, []string{"python3"}, names(t, walk(t, fsys, "/1/problems/1/submit").shape))
	stage := walk(t, fsys, "/1/problems/1/submit/python3").staging
	require.NotNil(t, stage)
	assert.Equal(t, 23, stage.langID)
	assert.Equal(t, 1, stage.problem.ID)

	_, err := tryWalk(fsys, "/1/problems/1/submit/gcc")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = tryWalk(fsys, "/1/problems/2")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRunTree(t *testing.T) {
	fsys, _, _ := newTestFS(t, filestore.Options{})

	assert.Equal(t, []string{"5"}, names(t, walk(t, fsys, "/1/runs").shape))
	assert.Equal(t, []string{"info", "source", "messages", "tests"}, names(t, walk(t, fsys, "/1/runs/5").shape))
	assert.Equal(t, "print(1)\n", read(t, walk(t, fsys, "/1/runs/5/source")))
	assert.Contains(t, read(t, walk(t, fsys, "/1/runs/5/info")), "WA")

	assert.Equal(t, []string{"1", "2"}, names(t, walk(t, fsys, "/1/runs/5/tests").shape))
	assert.Equal(t, []string{"input", "output", "correct", "stderr", "checker"}, names(t, walk(t, fsys, "/1/runs/5/tests/1").shape))
	assert.Equal(t, []string{"input", "output"}, names(t, walk(t, fsys, "/1/runs/5/tests/2").shape))
	assert.Equal(t, "output of test 2", read(t, walk(t, fsys, "/1/runs/5/tests/2/output")))

	for _, missing := range []string{"/1/runs/6", "/1/runs/5/tests/3", "/1/runs/5/tests/0", "/1/runs/5/tests/2/correct", "/1/runs/5/tests/2/stdout"} {
		_, err := tryWalk(fsys, missing)
		assert.ErrorIs(t, err, common.ErrNotFound, missing)
	}
}

func TestUnpopulatedViewIsUnavailable(t *testing.T) {
	fsys, remote, clock := newTestFS(t, filestore.Options{})
	remote.fail("list-runs", errors.New("server overloaded"))

	c := walk(t, fsys, "/1/log")
	_, err := c.content(context.Background())
	require.ErrorIs(t, err, common.ErrNotPopulated)
	assert.Contains(t, err.Error(), "server overloaded")
	assert.Equal(t, syscall.EAGAIN, toErrno(err))

	_, err = walk(t, fsys, "/1/runs").shape.list(context.Background())
	assert.ErrorIs(t, err, common.ErrNotPopulated)

	remote.fail("list-runs", nil)
	clock.Advance(contest.DefaultRetryDelay)
	assert.Contains(t, read(t, c), "5")
}

func TestFailedRefreshServesLastGoodValue(t *testing.T) {
	fsys, remote, clock := newTestFS(t, filestore.Options{})

	c := walk(t, fsys, "/1/info")
	before := read(t, c)

	remote.fail("contest-status", errors.New("connection reset"))
	clock.Advance(contest.DefaultCacheTTL)
	assert.Equal(t, before, read(t, c))
	assert.Equal(t, 2, remote.calls["contest-status"])
}

func TestTextNode(t *testing.T) {
	fsys, _, _ := newTestFS(t, filestore.Options{})
	ctx := context.Background()

	node, mode, errno := fsys.root.resolve(ctx, "contests")
	require.Equal(t, fs.OK, errno)
	assert.Equal(t, uint32(syscall.S_IFREG), mode)
	text := node.(*textNode)
	want := "1\tWarmup\n"

	var attr fuse.AttrOut
	require.Equal(t, fs.OK, text.Getattr(ctx, nil, &attr))
	assert.Equal(t, uint64(len(want)), attr.Size)
	assert.Equal(t, uint32(fileMode), attr.Mode)

	_, _, errno = text.Open(ctx, syscall.O_WRONLY)
	assert.Equal(t, syscall.EACCES, errno)

	fh, flags, errno := text.Open(ctx, syscall.O_RDONLY)
	require.Equal(t, fs.OK, errno)
	assert.NotZero(t, flags&fuse.FOPEN_DIRECT_IO)

	tests := []struct {
		off  int64
		size int
		want string
	}{
		{0, 64, want},
		{2, 3, "War"},
		{int64(len(want)) - 1, 10, "\n"},
		{int64(len(want)), 10, ""},
		{100, 10, ""},
	}
	for _, tt := range tests {
		res, errno := text.Read(ctx, fh, make([]byte, tt.size), tt.off)
		require.Equal(t, fs.OK, errno)
		data, _ := res.Bytes(nil)
		assert.Equal(t, tt.want, string(data), "offset %d", tt.off)
	}
}

func TestDirNodeReaddir(t *testing.T) {
	fsys, _, _ := newTestFS(t, filestore.Options{})
	ctx := context.Background()

	node, mode, errno := fsys.root.resolve(ctx, "1")
	require.Equal(t, fs.OK, errno)
	assert.Equal(t, uint32(syscall.S_IFDIR), mode)
	dir := node.(*dirNode)
	assert.Equal(t, "/1", dir.path)

	stream, errno := dir.Readdir(ctx)
	require.Equal(t, fs.OK, errno)
	assert.Equal(t, []string{"info", "log", "problems", "runs"}, streamNames(t, stream))

	_, _, errno = dir.resolve(ctx, "nope")
	assert.Equal(t, syscall.ENOENT, errno)

	node, _, errno = dir.resolve(ctx, "problems")
	require.Equal(t, fs.OK, errno)
	problems := node.(*dirNode)
	node, _, errno = problems.resolve(ctx, "1")
	require.Equal(t, fs.OK, errno)
	node, _, errno = node.(*dirNode).resolve(ctx, "submit")
	require.Equal(t, fs.OK, errno)
	node, mode, errno = node.(*dirNode).resolve(ctx, "python3")
	require.Equal(t, fs.OK, errno)
	assert.Equal(t, uint32(syscall.S_IFDIR), mode)
	assert.IsType(t, &stagingNode{}, node)
}
