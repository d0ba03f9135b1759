// Package sendfile streams file contents to network connections without
// copying them through user space when the connection exposes its socket.
package sendfile

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// maxChunk bounds a single sendfile call; Linux transfers at most
// 0x7ffff000 bytes per call anyway.
const maxChunk = 1 << 30

// SendFile writes count bytes of file, starting at offset, to conn. It uses
// sendfile(2) on the connection's socket when conn implements syscall.Conn
// and falls back to a buffered copy otherwise.
func SendFile(conn net.Conn, file *os.File, offset, count int64) (int64, error) {
	if count <= 0 {
		return 0, nil
	}

	sc, ok := conn.(syscall.Conn)
	if !ok {
		return copyFile(conn, file, offset, count)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return copyFile(conn, file, offset, count)
	}

	src := int(file.Fd())
	var (
		written int64
		opErr   error
	)
	err = raw.Write(func(dst uintptr) bool {
		for written < count {
			n, err := unix.Sendfile(int(dst), src, &offset, int(min(count-written, maxChunk)))
			if n > 0 {
				written += int64(n)
			}
			switch {
			case errors.Is(err, unix.EAGAIN):
				// Socket buffer full; wait for the poller to report writability.
				return false
			case errors.Is(err, unix.EINTR):
				continue
			case err != nil:
				opErr = os.NewSyscallError("sendfile", err)
				return true
			case n == 0:
				opErr = io.ErrUnexpectedEOF
				return true
			}
		}
		return true
	})
	if opErr != nil {
		return written, opErr
	}
	return written, err
}

func copyFile(conn net.Conn, file *os.File, offset, count int64) (int64, error) {
	n, err := io.Copy(conn, io.NewSectionReader(file, offset, count))
	if err == nil && n < count {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// WriteAll writes data to conn, retrying short writes.
func WriteAll(conn net.Conn, data []byte) (int64, error) {
	var written int64
	for len(data) > 0 {
		n, err := conn.Write(data)
		written += int64(n)
		if err != nil {
			return written, err
		}
		data = data[n:]
	}
	return written, nil
}
