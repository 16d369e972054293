package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrUsage is returned when the argument count is wrong.
var ErrUsage = errors.New("usage: staticserver <port> <directory>")

// loopback only
var Loopback = [4]byte{127, 0, 0, 1}

// Config is everything the process takes from its arguments.
type Config struct {
	Port int
	Dir  string // always ends with a separator
}

// ParseArgs validates the two positional arguments, port and directory.
func ParseArgs(args []string) (Config, error) {
	if len(args) != 2 {
		return Config{}, ErrUsage
	}

	port, err := strconv.Atoi(args[0])
	if err != nil || port < 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid port %q: %w", args[0], ErrUsage)
	}

	dir := args[1]
	info, err := os.Stat(dir)
	if err != nil {
		return Config{}, fmt.Errorf("directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return Config{}, fmt.Errorf("%q is not a directory", dir)
	}

	if !strings.HasSuffix(dir, string(os.PathSeparator)) {
		dir += string(os.PathSeparator)
	}
	return Config{Port: port, Dir: dir}, nil
}
