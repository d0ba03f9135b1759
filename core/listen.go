package core

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-server/config"
)

// listen creates an IPv4 TCP socket bound to every interface on port and
// wraps it in a net.Listener. SO_REUSEADDR is set only with FlagReuseAddr.
func listen(port, backlog int, flags config.Flags) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSocket, os.NewSyscallError("socket", err))
	}
	unix.CloseOnExec(fd)

	if flags.Has(config.FlagReuseAddr) {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("%w: %w", ErrSocket, os.NewSyscallError("setsockopt", err))
		}
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: port %d: %w", ErrBind, port, os.NewSyscallError("bind", err))
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %w", ErrListen, os.NewSyscallError("listen", err))
	}

	// FileListener dups the descriptor and registers it with the runtime
	// poller, so f is closed either way.
	f := os.NewFile(uintptr(fd), fmt.Sprintf("tcp4:*:%d", port))
	ln, err := net.FileListener(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListen, err)
	}
	return ln, nil
}
