package app

import (
	"fmt"
	"unicode/utf8"

	"bedrock/kernel"
)

// fatalWidth wraps the thread table dump for narrow serial consoles.
const fatalWidth = 80

// onFatal dumps the thread table after the kernel has logged the failing
// thread and its stack.
func (s *System) onFatal(fe *kernel.FatalError) {
	if s.log == nil || s.k == nil {
		return
	}
	lines := []string{fmt.Sprintf("bedrock fatal: thread=%d cause=%v", fe.Thread, fe.Err)}
	for _, ti := range s.k.Snapshot() {
		if ti.State == kernel.Free {
			continue
		}
		line := fmt.Sprintf("  slot %d: %s sp=%#x base=%#x hw=%d", ti.ID, ti.State, uintptr(ti.SP), uintptr(ti.StackBase), s.k.Arena().HighWater(int(ti.ID)))
		if ti.Waiting {
			line += " waiting"
		}
		lines = append(lines, line)
	}

	for _, line := range lines {
		for len(line) > 0 {
			var chunk string
			chunk, line = takeRunes(line, fatalWidth)
			s.log.WriteLineString(chunk)
		}
	}
}

func takeRunes(s string, n int) (prefix, rest string) {
	if n <= 0 || s == "" {
		return "", s
	}
	if len(s) <= n {
		return s, ""
	}
	var i, count int
	for i < len(s) && count < n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		count++
	}
	if i >= len(s) {
		return s, ""
	}
	return s[:i], s[i:]
}
