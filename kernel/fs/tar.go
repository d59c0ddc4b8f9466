package fs

import (
	"archive/tar"
	"bytes"
	"io"
	"strings"

	"comus/kernel"
	"comus/kernel/errors"
)

// TarFS is a FileSystem backed by a complete in-memory USTar image, the
// format the boot loader hands the kernel as its ramdisk module. Every
// lookup rescans the archive from the start with the standard library's
// tar.Reader, the same linear walk-until-match strategy as the original
// tar driver's find_file, minus the hand-rolled 512-byte header parsing.
type TarFS struct {
	image []byte
}

// NewTarFS wraps image, a complete USTar archive, as a read-only FileSystem.
func NewTarFS(image []byte) *TarFS {
	return &TarFS{image: image}
}

func cleanName(name string) string {
	return strings.Trim(name, "/")
}

func entryType(hdr *tar.Header) FileType {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return FileDirectory
	case tar.TypeSymlink:
		return FileSymlink
	}
	return FileRegular
}

// find scans the archive for path, returning its header and fully buffered
// contents (empty for a directory entry).
func (t *TarFS) find(path string) (*tar.Header, []byte, *kernel.Error) {
	want := cleanName(path)
	r := tar.NewReader(bytes.NewReader(t.image))
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			return nil, nil, errors.New(errors.NotFound)
		}
		if err != nil {
			return nil, nil, errors.New(errors.GenericFailure)
		}
		if cleanName(hdr.Name) != want {
			continue
		}

		content := make([]byte, hdr.Size)
		if _, err := io.ReadFull(r, content); err != nil {
			return nil, nil, errors.New(errors.GenericFailure)
		}
		return hdr, content, nil
	}
}

// children returns the cleaned names of every entry immediately inside dir
// (one path segment below it), in archive order.
func (t *TarFS) children(dir string) []Dirent {
	want := cleanName(dir)
	var out []Dirent

	r := tar.NewReader(bytes.NewReader(t.image))
	for {
		hdr, err := r.Next()
		if err != nil {
			break
		}

		name := cleanName(hdr.Name)
		rest := name
		if want != "" {
			if !strings.HasPrefix(name, want+"/") {
				continue
			}
			rest = strings.TrimPrefix(name, want+"/")
		} else if name == "" {
			continue
		}

		if rest == "" || strings.Contains(rest, "/") {
			continue
		}

		out = append(out, Dirent{Name: rest, Type: entryType(hdr)})
	}

	return out
}

// Open locates path within the archive and returns a handle to its
// contents (or, for a directory, its listing). flags is advisory only:
// every tar entry is read-only, so a write-requesting open still succeeds
// but every subsequent Write call fails.
func (t *TarFS) Open(path string, flags OpenFlag) (File, *kernel.Error) {
	hdr, content, err := t.find(path)
	if err != nil {
		return nil, err
	}

	f := &tarFile{data: content, typ: entryType(hdr)}
	if f.typ == FileDirectory {
		f.dir = t.children(path)
	}
	return f, nil
}

// Stat reports path's type and size without opening it.
func (t *TarFS) Stat(path string) (Stat, *kernel.Error) {
	hdr, _, err := t.find(path)
	if err != nil {
		return Stat{}, err
	}
	return Stat{Type: entryType(hdr), Length: hdr.Size}, nil
}

// tarFile is an open, read-only handle onto one archive entry's fully
// buffered contents (or, for a directory, its cached child listing).
type tarFile struct {
	data   []byte
	typ    FileType
	dir    []Dirent
	offset int64
	closed bool
}

func (f *tarFile) Read(buf []byte) (int, *kernel.Error) {
	if f.closed {
		return 0, errors.New(errors.BadChannel)
	}
	if f.typ == FileDirectory {
		return 0, errors.New(errors.BadParameter)
	}
	if f.offset >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(buf, f.data[f.offset:])
	f.offset += int64(n)
	return n, nil
}

func (f *tarFile) Write(buf []byte) (int, *kernel.Error) {
	return 0, errors.New(errors.BadParameter)
}

func (f *tarFile) Seek(offset int64, whence Whence) (int64, *kernel.Error) {
	if f.closed {
		return 0, errors.New(errors.BadChannel)
	}

	var base int64
	switch whence {
	case SeekStart:
		base = 0
	case SeekCurrent:
		base = f.offset
	case SeekEnd:
		base = int64(len(f.data))
	default:
		return 0, errors.New(errors.BadParameter)
	}

	newOffset := base + offset
	if newOffset < 0 {
		return 0, errors.New(errors.BadParameter)
	}
	f.offset = newOffset
	return f.offset, nil
}

func (f *tarFile) Stat() Stat {
	return Stat{Type: f.typ, Length: int64(len(f.data))}
}

func (f *tarFile) Ents(i int) (Dirent, *kernel.Error) {
	if f.typ != FileDirectory {
		return Dirent{}, errors.New(errors.BadParameter)
	}
	if i < 0 || i >= len(f.dir) {
		return Dirent{}, errors.New(errors.NotFound)
	}
	return f.dir[i], nil
}

func (f *tarFile) Close() *kernel.Error {
	f.closed = true
	return nil
}
