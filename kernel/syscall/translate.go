package syscall

import (
	"encoding/binary"
	"unsafe"

	"comus/kernel"
	"comus/kernel/errors"
	"comus/kernel/mem"
	"comus/kernel/mem/ctx"
	"comus/kernel/mem/vmm"
)

// copyFromUser copies len(dst) bytes starting at the user-space address va
// in c into dst, one page at a time through the paging engine's scratch
// mapping. Every page touched must be present and user-accessible; an
// untranslatable or privileged page fails the whole call with BadParameter,
// matching the specification's "no partial side effects on failure" policy.
func copyFromUser(c *ctx.Context, va uintptr, dst []byte) *kernel.Error {
	n := len(dst)
	if n == 0 {
		return nil
	}
	dstBase := uintptr(unsafe.Pointer(&dst[0]))

	off := 0
	for off < n {
		cur := va + uintptr(off)
		pageVA := cur &^ (uintptr(mem.PageSize) - 1)
		pageOff := cur - pageVA

		info, ok := c.PDT.GetPTE(pageVA)
		if !ok || !info.Present || !info.User {
			return errors.New(errors.BadParameter)
		}

		chunk := uintptr(mem.PageSize) - pageOff
		if remaining := uintptr(n - off); chunk > remaining {
			chunk = remaining
		}

		tmp, err := vmm.MapTemporary(info.Frame)
		if err != nil {
			return err
		}
		mem.Memcopy(tmp.Address()+pageOff, dstBase+uintptr(off), mem.Size(chunk))
		vmm.Unmap(tmp)

		off += int(chunk)
	}

	return nil
}

// copyToUser copies src into the user-space address va in c, one page at a
// time. Every page touched must be present, user-accessible and writable.
func copyToUser(c *ctx.Context, va uintptr, src []byte) *kernel.Error {
	n := len(src)
	if n == 0 {
		return nil
	}
	srcBase := uintptr(unsafe.Pointer(&src[0]))

	off := 0
	for off < n {
		cur := va + uintptr(off)
		pageVA := cur &^ (uintptr(mem.PageSize) - 1)
		pageOff := cur - pageVA

		info, ok := c.PDT.GetPTE(pageVA)
		if !ok || !info.Present || !info.User || !info.Writable {
			return errors.New(errors.BadParameter)
		}

		chunk := uintptr(mem.PageSize) - pageOff
		if remaining := uintptr(n - off); chunk > remaining {
			chunk = remaining
		}

		tmp, err := vmm.MapTemporary(info.Frame)
		if err != nil {
			return err
		}
		mem.Memcopy(srcBase+uintptr(off), tmp.Address()+pageOff, mem.Size(chunk))
		vmm.Unmap(tmp)

		off += int(chunk)
	}

	return nil
}

// copyFromUserBuf allocates and fills a n-byte kernel buffer from the user
// address va.
func copyFromUserBuf(c *ctx.Context, va uintptr, n int) ([]byte, *kernel.Error) {
	if n < 0 {
		return nil, errors.New(errors.BadParameter)
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if err := copyFromUser(c, va, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// copyStringFromUser reads up to maxLen bytes from va and returns the
// substring up to (not including) the first NUL byte. A string with no NUL
// within maxLen bytes fails with BadParameter, the same as any other
// malformed argument.
func copyStringFromUser(c *ctx.Context, va uintptr, maxLen int) (string, *kernel.Error) {
	buf, err := copyFromUserBuf(c, va, maxLen)
	if err != nil {
		return "", err
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return "", errors.New(errors.BadParameter)
}

func writeU8(c *ctx.Context, va uintptr, v uint8) *kernel.Error {
	return copyToUser(c, va, []byte{v})
}

func writeU32(c *ctx.Context, va uintptr, v uint32) *kernel.Error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return copyToUser(c, va, buf[:])
}

func writeU64(c *ctx.Context, va uintptr, v uint64) *kernel.Error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return copyToUser(c, va, buf[:])
}
