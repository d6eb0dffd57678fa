package contestfs

import (
	"context"
	"path"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

const (
	dirMode  = syscall.S_IFDIR | 0o555
	fileMode = syscall.S_IFREG | 0o444
)

// dirent is one name listed by a read-only directory.
type dirent struct {
	name string
	dir  bool
}

// child describes the node a name resolves to. Exactly one of shape,
// content and staging is set.
type child struct {
	shape   dirShape
	content contentFunc
	staging *stagingDir
}

// dirShape is implemented by every read-only directory layout in the tree.
type dirShape interface {
	list(ctx context.Context) ([]dirent, error)
	lookup(ctx context.Context, name string) (child, error)
}

// dirNode is a read-only directory whose entries come from its shape.
type dirNode struct {
	fs.Inode
	fsys  *FileSystem
	path  string
	shape dirShape
}

var _ fs.InodeEmbedder = (*dirNode)(nil)
var _ fs.NodeGetattrer = (*dirNode)(nil)
var _ fs.NodeLookuper = (*dirNode)(nil)
var _ fs.NodeReaddirer = (*dirNode)(nil)

func (n *dirNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	logOp("Getattr", n.path).Msg("Getattr called")
	n.fsys.fillAttr(&out.Attr, dirMode, 0, n.fsys.started)
	out.Ino = n.fsys.ino(n.path)
	return fs.OK
}

func (n *dirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	logOp("Readdir", n.path).Msg("Readdir called")

	ents, err := n.shape.list(ctx)
	if err != nil {
		logOp("Readdir", n.path).Err(err).Msg("listing failed")
		return nil, toErrno(err)
	}

	out := make([]fuse.DirEntry, 0, len(ents))
	for _, e := range ents {
		mode := uint32(fileMode)
		if e.dir {
			mode = dirMode
		}
		out = append(out, fuse.DirEntry{
			Name: e.name,
			Mode: mode,
			Ino:  n.fsys.ino(path.Join(n.path, e.name)),
		})
	}
	return fs.NewListDirStream(out), fs.OK
}

func (n *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	logOp("Lookup", n.path).Str("name", name).Msg("Lookup called")

	node, mode, errno := n.resolve(ctx, name)
	if errno != fs.OK {
		return nil, errno
	}

	if ga, ok := node.(fs.NodeGetattrer); ok {
		var attr fuse.AttrOut
		if errno := ga.Getattr(ctx, nil, &attr); errno != fs.OK {
			return nil, errno
		}
		out.Attr = attr.Attr
	}

	ino := n.fsys.ino(path.Join(n.path, name))
	out.Ino = ino
	return n.NewInode(ctx, node, fs.StableAttr{Mode: mode, Ino: ino}), fs.OK
}

// resolve builds the node for name without attaching it to the tree.
func (n *dirNode) resolve(ctx context.Context, name string) (fs.InodeEmbedder, uint32, syscall.Errno) {
	c, err := n.shape.lookup(ctx, name)
	if err != nil {
		return nil, 0, toErrno(err)
	}

	childPath := path.Join(n.path, name)
	switch {
	case c.shape != nil:
		return &dirNode{fsys: n.fsys, path: childPath, shape: c.shape}, syscall.S_IFDIR, fs.OK
	case c.staging != nil:
		return &stagingNode{fsys: n.fsys, path: childPath, stage: c.staging}, syscall.S_IFDIR, fs.OK
	case c.content != nil:
		return &textNode{fsys: n.fsys, path: childPath, content: c.content}, syscall.S_IFREG, fs.OK
	}
	return nil, 0, syscall.ENOENT
}
