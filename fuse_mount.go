//go:build fuse

package flogfs

// fuse_mount.go is an optional, read-only FUSE view of a mounted Filesystem,
// kept behind a build tag since the core never depends on it: a single root
// directory whose entries are every live file, each exposed as a plain
// read-only regular file.
//
// Writes, deletes and renames are not exposed through this view: spec §4.6
// requires every writer to finish its append in strictly increasing
// timestamp order under the filesystem's own lock, which the kernel's
// write-back cache cannot be made to honor, so this adapter only ever opens
// FLogFS files O_RDONLY.

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Root is the FUSE root directory node for a mounted Filesystem. Construct
// one with NewRoot and pass it to fs.Mount.
type Root struct {
	fs.Inode
	vol *Filesystem
}

// NewRoot wraps an already-Mounted Filesystem for use with go-fuse's
// in-process server (fs.Mount(mountpoint, NewRoot(vol), opts)).
func NewRoot(vol *Filesystem) *Root {
	return &Root{vol: vol}
}

var (
	_ fs.NodeOnAdder = (*Root)(nil)
)

// OnAdd populates the root directory once, at mount time, by listing every
// live file (spec §6 ls_start/ls_iterate) and attaching one read-only leaf
// per name. FLogFS has no subdirectories (spec §1 "flat namespace"), so
// this is the entire tree.
func (r *Root) OnAdd(ctx context.Context) {
	it, err := r.vol.ListStart()
	if err != nil {
		return
	}
	defer it.Stop()

	for {
		name, ok, err := it.Next()
		if err != nil || !ok {
			return
		}
		child := &fileNode{vol: r.vol, name: name}
		st := fs.StableAttr{Mode: syscall.S_IFREG}
		inode := r.NewPersistentInode(ctx, child, st)
		r.AddChild(name, inode, false)
	}
}

// fileNode is a single read-only leaf backed by one FLogFS file, opened
// fresh (OpenRead from byte 0) on every FUSE Open, matching FLogFS's
// sequential-only read model (spec §4.5): there is no seek, so each open
// handle tracks its own read cursor independently.
type fileNode struct {
	fs.Inode
	vol  *Filesystem
	name string
}

var (
	_ fs.NodeOpener = (*fileNode)(nil)
	_ fs.NodeGetattrer = (*fileNode)(nil)
)

func (n *fileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o444
	return fs.OK
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	rh, err := n.vol.OpenRead(n.name)
	if err != nil {
		return nil, 0, toErrno(err)
	}
	return &fileHandle{rh: rh}, fuse.FOPEN_DIRECT_IO, fs.OK
}

// fileHandle adapts a ReadHandle (sequential-only) to FUSE's offset-based
// Read. FLogFS itself has no seek (spec §9): an offset ahead of the handle's
// position is reached by reading and discarding the bytes in between, and
// an offset behind it fails with ESPIPE. Forward-sequential reads, the
// common case, pay no extra cost.
type fileHandle struct {
	rh  *ReadHandle
	pos uint64
}

var _ fs.FileReader = (*fileHandle)(nil)

func (h *fileHandle) Read(ctx context.Context, dst []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if uint64(off) < h.pos {
		return nil, syscall.ESPIPE
	}
	for h.pos < uint64(off) {
		skip := make([]byte, 4096)
		want := uint64(off) - h.pos
		if want > uint64(len(skip)) {
			want = uint64(len(skip))
		}
		n, err := h.rh.Read(skip[:want])
		h.pos += uint64(n)
		if n == 0 || err != nil {
			return fuse.ReadResultData(nil), fs.OK
		}
	}
	n, err := h.rh.Read(dst)
	h.pos += uint64(n)
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dst[:n]), fs.OK
}

// ToErrno maps FLogFS's sentinel errors onto the errno FUSE clients expect.
func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return fs.OK
	case err == ErrNotFound:
		return syscall.ENOENT
	default:
		return syscall.EIO
	}
}
