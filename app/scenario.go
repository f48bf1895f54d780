package app

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// Role selects what a scenario thread does.
type Role uint8

const (
	RoleEcho Role = iota + 1
	RolePing
	RoleWatchdog
)

func (r Role) String() string {
	switch r {
	case RoleEcho:
		return "echo"
	case RolePing:
		return "ping"
	case RoleWatchdog:
		return "watchdog"
	default:
		return "unknown"
	}
}

// ThreadSpec is one parsed scenario line.
//
//	echo PORT [CONNS]      serve CONNS connections (0 = forever), one handler thread each
//	ping ADDR MSG [COUNT]  send MSG COUNT times and check every echo
//	watchdog YIELDS        yield YIELDS times, then exit
type ThreadSpec struct {
	Role   Role
	Port   uint16
	Conns  int
	Addr   string
	Msg    string
	Count  int
	Yields int
}

var ErrScenario = errors.New("scenario")

// ParseScenario parses one thread per line. Blank lines and # comments are
// skipped; arguments follow shell quoting rules.
func ParseScenario(text string) ([]ThreadSpec, error) {
	var specs []ThreadSpec
	for i, line := range strings.Split(text, "\n") {
		spec, ok, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if ok {
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

// ParseLine parses a single scenario line. ok is false for a line with no
// tokens.
func ParseLine(line string) (spec ThreadSpec, ok bool, err error) {
	args, err := shlex.Split(line)
	if err != nil {
		return ThreadSpec{}, false, fmt.Errorf("%w: %v", ErrScenario, err)
	}
	if len(args) == 0 {
		return ThreadSpec{}, false, nil
	}

	switch args[0] {
	case "echo":
		if len(args) < 2 || len(args) > 3 {
			return usage("echo PORT [CONNS]")
		}
		port, err := parsePort(args[1])
		if err != nil {
			return ThreadSpec{}, false, err
		}
		spec = ThreadSpec{Role: RoleEcho, Port: port}
		if len(args) == 3 {
			if spec.Conns, err = parseCount("CONNS", args[2]); err != nil {
				return ThreadSpec{}, false, err
			}
		}
	case "ping":
		if len(args) < 3 || len(args) > 4 {
			return usage("ping ADDR MSG [COUNT]")
		}
		if _, _, err := net.SplitHostPort(args[1]); err != nil {
			return ThreadSpec{}, false, fmt.Errorf("%w: address %q: %v", ErrScenario, args[1], err)
		}
		if args[2] == "" {
			return ThreadSpec{}, false, fmt.Errorf("%w: empty ping message", ErrScenario)
		}
		spec = ThreadSpec{Role: RolePing, Addr: args[1], Msg: args[2], Count: 1}
		if len(args) == 4 {
			if spec.Count, err = parseCount("COUNT", args[3]); err != nil {
				return ThreadSpec{}, false, err
			}
		}
	case "watchdog":
		if len(args) != 2 {
			return usage("watchdog YIELDS")
		}
		spec = ThreadSpec{Role: RoleWatchdog}
		if spec.Yields, err = parseCount("YIELDS", args[1]); err != nil {
			return ThreadSpec{}, false, err
		}
	default:
		return ThreadSpec{}, false, fmt.Errorf("%w: unknown role %q", ErrScenario, args[0])
	}
	return spec, true, nil
}

// String renders spec back in scenario syntax.
func (s ThreadSpec) String() string {
	switch s.Role {
	case RoleEcho:
		return fmt.Sprintf("echo %d %d", s.Port, s.Conns)
	case RolePing:
		return fmt.Sprintf("ping %s %s %d", s.Addr, strconv.Quote(s.Msg), s.Count)
	case RoleWatchdog:
		return fmt.Sprintf("watchdog %d", s.Yields)
	}
	return "unknown"
}

func usage(form string) (ThreadSpec, bool, error) {
	return ThreadSpec{}, false, fmt.Errorf("%w: usage: %s", ErrScenario, form)
}

func parsePort(s string) (uint16, error) {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: port %q: %v", ErrScenario, s, err)
	}
	return uint16(p), nil
}

func parseCount(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s %q must be a non-negative integer", ErrScenario, name, s)
	}
	return n, nil
}
