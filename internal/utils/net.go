package utils

import "net"

// GetFreePort asks the kernel for an unused TCP port on localhost. Tests use
// it to pick control plane addresses that cannot collide.
func GetFreePort() (int, error) {
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
