package system

import (
	"net"
	"strconv"
)

// GetFreePort asks the kernel for an unused TCP port on host ("" means all interfaces).
func GetFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()

	addr := l.Addr().(*net.TCPAddr)
	return addr.Port, nil
}

// ListenAddr formats host and port the way fasthttp expects them.
func ListenAddr(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
