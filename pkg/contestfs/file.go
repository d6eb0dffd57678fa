package contestfs

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// textNode is a read-only file whose contents come from a cached view.
type textNode struct {
	fs.Inode
	fsys    *FileSystem
	path    string
	content contentFunc
}

var _ fs.InodeEmbedder = (*textNode)(nil)
var _ fs.NodeGetattrer = (*textNode)(nil)
var _ fs.NodeOpener = (*textNode)(nil)
var _ fs.NodeReader = (*textNode)(nil)

// textHandle pins the contents seen at open time, so one read session never
// mixes two versions of a view.
type textHandle struct {
	data []byte
}

func (n *textNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	logOp("Getattr", n.path).Msg("Getattr called")

	var size int
	if h, ok := fh.(*textHandle); ok {
		size = len(h.data)
	} else if data, err := n.content(ctx); err == nil {
		size = len(data)
	}

	n.fsys.fillAttr(&out.Attr, fileMode, int64(size), n.fsys.started)
	out.Ino = n.fsys.ino(n.path)
	return fs.OK
}

func (n *textNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	logOp("Open", n.path).Uint32("flags", flags).Msg("Open called")

	if flags&syscall.O_ACCMODE != syscall.O_RDONLY {
		return nil, 0, syscall.EACCES
	}

	data, err := n.content(ctx)
	if err != nil {
		logOp("Open", n.path).Err(err).Msg("view not available")
		return nil, 0, toErrno(err)
	}

	// Sizes change between refreshes; bypass the page cache.
	return &textHandle{data: data}, fuse.FOPEN_DIRECT_IO, fs.OK
}

func (n *textNode) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	logOp("Read", n.path).Int64("offset", off).Int("length", len(dest)).Msg("Read called")

	var data []byte
	if h, ok := fh.(*textHandle); ok {
		data = h.data
	} else {
		var err error
		if data, err = n.content(ctx); err != nil {
			return nil, toErrno(err)
		}
	}

	if off >= int64(len(data)) {
		return fuse.ReadResultData(nil), fs.OK
	}
	end := off + int64(len(dest))
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return fuse.ReadResultData(data[off:end]), fs.OK
}
