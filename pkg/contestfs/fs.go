package contestfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/beam-cloud/contestfs/pkg/common"
	"github.com/beam-cloud/contestfs/pkg/contest"
	"github.com/beam-cloud/contestfs/pkg/render"
	"github.com/beam-cloud/contestfs/pkg/snapshot"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetLogLevel configures the logging verbosity.
// Valid levels: "debug", "info", "warn", "error", "disabled"
// Use "debug" to see every filesystem call and refresh
func SetLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "disabled", "none", "off":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		return fmt.Errorf("invalid log level %q: must be one of: debug, info, warn, error, disabled", level)
	}
	return nil
}

type FileSystemOpts struct {
	// Render caches rendered text files. A cache is created when nil.
	Render *render.Cache
}

// FileSystem exposes a contest.State as a go-fuse node tree.
type FileSystem struct {
	state   *contest.State
	render  *render.Cache
	root    *dirNode
	owner   fuse.Owner
	started time.Time
}

func NewFileSystem(state *contest.State, opts FileSystemOpts) (*FileSystem, error) {
	cache := opts.Render
	if cache == nil {
		var err error
		cache, err = render.NewCache(render.Options{Metrics: state.Metrics()})
		if err != nil {
			return nil, fmt.Errorf("could not create render cache: %w", err)
		}
	}

	fsys := &FileSystem{
		state:   state,
		render:  cache,
		owner:   fuse.Owner{Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())},
		started: state.Now(),
	}
	fsys.root = &dirNode{fsys: fsys, path: "/", shape: &rootShape{fsys: fsys}}
	return fsys, nil
}

func (fsys *FileSystem) Root() (fs.InodeEmbedder, error) {
	if fsys.root == nil {
		return nil, fmt.Errorf("root not initialized")
	}
	return fsys.root, nil
}

func (fsys *FileSystem) State() *contest.State {
	return fsys.state
}

func (fsys *FileSystem) ino(path string) uint64 {
	return fsys.state.Inodes.GetInode(path)
}

func (fsys *FileSystem) fillAttr(out *fuse.Attr, mode uint32, size int64, mtime time.Time) {
	out.Mode = mode
	out.Size = uint64(size)
	out.Blocks = (uint64(size) + 511) / 512
	out.Owner = fsys.owner
	out.Nlink = 1
	if mode&syscall.S_IFDIR != 0 {
		out.Nlink = 2
	}
	out.SetTimes(&mtime, &mtime, &mtime)
}

// toErrno maps store and state errors to the errno reported to the kernel.
func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return fs.OK
	case errors.Is(err, common.ErrNotFound),
		errors.Is(err, common.ErrKeyOutOfRange),
		errors.Is(err, common.ErrInvalidTestNum):
		return syscall.ENOENT
	case errors.Is(err, common.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, common.ErrNodeQuota):
		return syscall.ENOSPC
	case errors.Is(err, common.ErrSizeQuota):
		return syscall.EIO
	case errors.Is(err, common.ErrNotPopulated), errors.Is(err, common.ErrNoSession):
		return syscall.EAGAIN
	}
	return syscall.EIO
}

// populated runs the freshness gate of slot and returns the snapshot to
// serve with a reference held. It fails with ErrNotPopulated when no
// successful fetch has ever been published.
func populated[T any](ctx context.Context, update func(context.Context) bool, slot *snapshot.Slot[T]) (*snapshot.Snapshot[T], error) {
	update(ctx)

	snap := slot.Acquire()
	if snap.Populated {
		return snap, nil
	}
	msg := snap.Log
	snap.Release()

	if msg == "" {
		return nil, common.ErrNotPopulated
	}
	return nil, fmt.Errorf("%w: %s", common.ErrNotPopulated, msg)
}

// contentFunc produces the current contents of a read-only file.
type contentFunc func(ctx context.Context) ([]byte, error)

// rendered serves slot through fn, memoized per snapshot version.
func rendered[T any](fsys *FileSystem, path string, update func(context.Context) bool, slot *snapshot.Slot[T], fn func(T) []byte) contentFunc {
	return func(ctx context.Context) ([]byte, error) {
		snap, err := populated(ctx, update, slot)
		if err != nil {
			return nil, err
		}
		defer snap.Release()

		key := render.Key{View: "text", Entity: path, Version: snap.Version}
		return fsys.render.Get(key, func() []byte { return fn(snap.Value) }), nil
	}
}

// raw serves a byte slot as is.
func raw(update func(context.Context) bool, slot *snapshot.Slot[[]byte]) contentFunc {
	return func(ctx context.Context) ([]byte, error) {
		snap, err := populated(ctx, update, slot)
		if err != nil {
			return nil, err
		}
		defer snap.Release()
		return snap.Value, nil
	}
}

func logOp(op, path string) *zerolog.Event {
	return log.Debug().Str("op", op).Str("path", path)
}
