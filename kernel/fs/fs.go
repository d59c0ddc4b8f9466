// Package fs implements the file capability (spec's external-collaborator
// contract, consumed rather than defined by the core): a FileSystem/File
// interface pair that the syscall layer's open/close/read/write/seek/ents
// passthroughs drive uniformly, whatever concrete provider is mounted.
// Grounded on Oichkatzelesfrettschen-biscuit's fd/fd.go for the
// capability/permission shape.
package fs

import "comus/kernel"

// FileType classifies a filesystem entry.
type FileType uint8

const (
	FileRegular FileType = iota
	FileDirectory
	FileSymlink
)

// Stat describes a filesystem entry without opening it.
type Stat struct {
	Type   FileType
	Length int64
}

// Dirent is one entry returned by File.Ents.
type Dirent struct {
	Name string
	Type FileType
}

// Whence selects Seek's reference point.
type Whence uint8

const (
	SeekStart Whence = iota
	SeekCurrent
	SeekEnd
)

// OpenFlag requests read/write access to Open. A provider may reject a
// combination it cannot satisfy with a *kernel.Error; TarFS, which is
// read-only, accepts FlagWrite at Open and fails every later Write.
type OpenFlag uint8

const (
	FlagRead OpenFlag = 1 << iota
	FlagWrite
)

// File is an open handle to one entry of a mounted filesystem.
type File interface {
	Read(buf []byte) (int, *kernel.Error)
	Write(buf []byte) (int, *kernel.Error)
	Seek(offset int64, whence Whence) (int64, *kernel.Error)
	Stat() Stat
	// Ents reports the i'th directory entry (0-indexed) of a directory
	// handle. Returns errors.NotFound once i is past the last entry, and
	// errors.BadParameter on a non-directory handle.
	Ents(i int) (Dirent, *kernel.Error)
	Close() *kernel.Error
}

// FileSystem is a mountable, named namespace of files.
type FileSystem interface {
	Open(path string, flags OpenFlag) (File, *kernel.Error)
	Stat(path string) (Stat, *kernel.Error)
}
