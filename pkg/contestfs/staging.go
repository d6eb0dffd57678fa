package contestfs

import (
	"context"
	"errors"
	"io"
	"path"
	"sync"
	"syscall"

	"github.com/beam-cloud/contestfs/pkg/contest"
	"github.com/beam-cloud/contestfs/pkg/filestore"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog/log"
)

const stagingDirMode = syscall.S_IFDIR | 0o755

// stagingDir is the writable submit directory of one problem and language.
type stagingDir struct {
	problem *contest.Problem
	langID  int
	dir     *filestore.Directory
}

// stagingNode exposes a stagingDir. Files written into it are submitted
// when their last writing handle is released.
type stagingNode struct {
	fs.Inode
	fsys  *FileSystem
	path  string
	stage *stagingDir
}

var _ fs.InodeEmbedder = (*stagingNode)(nil)
var _ fs.NodeGetattrer = (*stagingNode)(nil)
var _ fs.NodeLookuper = (*stagingNode)(nil)
var _ fs.NodeReaddirer = (*stagingNode)(nil)
var _ fs.NodeCreater = (*stagingNode)(nil)
var _ fs.NodeUnlinker = (*stagingNode)(nil)

func (n *stagingNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	logOp("Getattr", n.path).Msg("Getattr called")
	n.fsys.fillAttr(&out.Attr, stagingDirMode, 0, n.fsys.started)
	out.Ino = n.fsys.ino(n.path)
	return fs.OK
}

func (n *stagingNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	logOp("Readdir", n.path).Msg("Readdir called")

	ents := n.stage.dir.List()
	out := make([]fuse.DirEntry, 0, len(ents))
	for _, e := range ents {
		out = append(out, fuse.DirEntry{
			Name: e.Name,
			Mode: syscall.S_IFREG,
			Ino:  n.fsys.ino(path.Join(n.path, e.Name)),
		})
	}
	return fs.NewListDirStream(out), fs.OK
}

func (n *stagingNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	logOp("Lookup", n.path).Str("name", name).Msg("Lookup called")

	node, err := n.stage.dir.Get(name)
	if err != nil {
		return nil, toErrno(err)
	}
	fillNodeAttr(n.fsys, &out.Attr, node.Attr())
	node.Release()

	return n.newFile(ctx, name, out), fs.OK
}

func (n *stagingNode) newFile(ctx context.Context, name string, out *fuse.EntryOut) *fs.Inode {
	childPath := path.Join(n.path, name)
	ino := n.fsys.ino(childPath)
	out.Ino = ino
	file := &fileNode{fsys: n.fsys, path: childPath, parent: n, name: name}
	return n.NewInode(ctx, file, fs.StableAttr{Mode: syscall.S_IFREG, Ino: ino})
}

func (n *stagingNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	logOp("Create", n.path).Str("name", name).Uint32("flags", flags).Uint32("mode", mode).Msg("Create called")

	node, err := n.stage.dir.OpenOrCreate(name, true, flags&syscall.O_EXCL != 0, mode&0o7777)
	if err != nil {
		logOp("Create", n.path).Str("name", name).Err(err).Msg("create failed")
		return nil, nil, 0, toErrno(err)
	}

	h, errno := n.open(node, name, flags)
	if errno != fs.OK {
		return nil, nil, 0, errno
	}
	fillNodeAttr(n.fsys, &out.Attr, h.node.Attr())
	return n.newFile(ctx, name, out), h, 0, fs.OK
}

func (n *stagingNode) Unlink(ctx context.Context, name string) syscall.Errno {
	logOp("Unlink", n.path).Str("name", name).Msg("Unlink called")
	if err := n.stage.dir.Unlink(name); err != nil {
		return toErrno(err)
	}
	// A file created later under the same name is a different file.
	n.fsys.state.Inodes.Forget(path.Join(n.path, name))
	return fs.OK
}

// open wraps node, whose reference passes to the handle, in a file handle.
func (n *stagingNode) open(node *filestore.Node, name string, flags uint32) (*fileHandle, syscall.Errno) {
	node.Open()
	h := &fileHandle{fsys: n.fsys, stage: n.stage, name: name, node: node}

	if flags&syscall.O_TRUNC != 0 && flags&syscall.O_ACCMODE != syscall.O_RDONLY {
		if err := node.Truncate(0); err != nil {
			h.Release(context.Background())
			return nil, toErrno(err)
		}
		h.dirty = true
	}
	return h, fs.OK
}

func fillNodeAttr(fsys *FileSystem, out *fuse.Attr, attr filestore.Attr) {
	fsys.fillAttr(out, syscall.S_IFREG|attr.Mode&0o7777, attr.Size, attr.Mtime)
	out.Nlink = uint32(attr.Nlink)
	out.SetTimes(&attr.Atime, &attr.Mtime, &attr.Ctime)
}

// fileNode is a staged file, resolved by name on every call so that a
// recreated file never serves the contents of its predecessor.
type fileNode struct {
	fs.Inode
	fsys   *FileSystem
	path   string
	parent *stagingNode
	name   string
}

var _ fs.InodeEmbedder = (*fileNode)(nil)
var _ fs.NodeGetattrer = (*fileNode)(nil)
var _ fs.NodeSetattrer = (*fileNode)(nil)
var _ fs.NodeOpener = (*fileNode)(nil)

// linked returns the file currently linked under the node's name. The
// caller must Release the result.
func (n *fileNode) linked() (*filestore.Node, error) {
	return n.parent.stage.dir.Get(n.name)
}

func (n *fileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	logOp("Getattr", n.path).Msg("Getattr called")

	if h, ok := fh.(*fileHandle); ok {
		fillNodeAttr(n.fsys, &out.Attr, h.node.Attr())
		return fs.OK
	}
	node, err := n.linked()
	if err != nil {
		return toErrno(err)
	}
	defer node.Release()
	fillNodeAttr(n.fsys, &out.Attr, node.Attr())
	return fs.OK
}

func (n *fileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	logOp("Setattr", n.path).Msg("Setattr called")

	h, _ := fh.(*fileHandle)
	var node *filestore.Node
	if h != nil {
		node = h.node
	} else {
		var err error
		if node, err = n.linked(); err != nil {
			return toErrno(err)
		}
		defer node.Release()
	}

	if size, ok := in.GetSize(); ok {
		if err := node.Truncate(int64(size)); err != nil {
			return toErrno(err)
		}
		if h != nil {
			h.markDirty()
		}
	}
	if mode, ok := in.GetMode(); ok {
		node.SetMode(mode & 0o7777)
	}

	fillNodeAttr(n.fsys, &out.Attr, node.Attr())
	return fs.OK
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	logOp("Open", n.path).Uint32("flags", flags).Msg("Open called")

	node, err := n.linked()
	if err != nil {
		return nil, 0, toErrno(err)
	}
	h, errno := n.parent.open(node, n.name, flags)
	if errno != fs.OK {
		return nil, 0, errno
	}
	return h, 0, fs.OK
}

// fileHandle is an open staged file. It holds a reference and an open count
// on the node until Release.
type fileHandle struct {
	fsys  *FileSystem
	stage *stagingDir
	name  string
	node  *filestore.Node

	mu       sync.Mutex
	dirty    bool
	released bool
}

var _ fs.FileReader = (*fileHandle)(nil)
var _ fs.FileWriter = (*fileHandle)(nil)
var _ fs.FileFlusher = (*fileHandle)(nil)
var _ fs.FileReleaser = (*fileHandle)(nil)

func (h *fileHandle) markDirty() {
	h.mu.Lock()
	h.dirty = true
	h.mu.Unlock()
}

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	c, err := h.node.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:c]), fs.OK
}

func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	c, err := h.node.WriteAt(data, off)
	if err != nil {
		log.Debug().Str("file", h.name).Int64("offset", off).Err(err).Msg("write rejected")
		return 0, toErrno(err)
	}
	h.markDirty()
	return uint32(c), fs.OK
}

func (h *fileHandle) Flush(ctx context.Context) syscall.Errno {
	return fs.OK
}

// Release closes the handle. A handle that modified the file hands it to
// the submission queue.
func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return fs.OK
	}
	h.released = true
	dirty := h.dirty
	h.mu.Unlock()

	if dirty {
		h.fsys.state.Enqueue(h.stage.problem, h.stage.langID, h.stage.dir, h.node.ID, h.name)
	}
	h.node.Close()
	h.node.Release()
	return fs.OK
}
