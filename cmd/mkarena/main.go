//go:build !tinygo

// Command mkarena prints the memory map of an arena layout: where the data
// region, the dispatch word and every stack slot land for a given base
// address.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"bedrock/arena"

	"github.com/pelletier/go-toml/v2"
)

type slotMap struct {
	Index  int    `toml:"index"`
	Base   string `toml:"base"`
	Limit  string `toml:"limit"`
	Canary string `toml:"canary"`
}

type layoutMap struct {
	DataWords  int       `toml:"data_words"`
	StackWords int       `toml:"stack_words"`
	Threads    int       `toml:"threads"`
	TotalBytes int       `toml:"total_bytes"`
	Base       string    `toml:"base"`
	Dispatch   string    `toml:"dispatch_word"`
	Slots      []slotMap `toml:"slot"`
}

func main() {
	l := arena.DefaultLayout()
	var baseStr string
	var format string
	var outPath string
	flag.IntVar(&l.DataWords, "data", l.DataWords, "Data region size (words).")
	flag.IntVar(&l.StackWords, "stack", l.StackWords, "Stack slot size (words).")
	flag.IntVar(&l.Threads, "threads", l.Threads, "Number of thread slots.")
	flag.StringVar(&baseStr, "base", "0x20000000", "Arena base address.")
	flag.StringVar(&format, "format", "text", "Output format: text or toml.")
	flag.StringVar(&outPath, "out", "", "Output path (default stdout).")
	flag.Parse()

	base, err := strconv.ParseUint(baseStr, 0, 64)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: -base:", err)
		os.Exit(2)
	}

	if err := run(l, arena.Addr(base), format, outPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(l arena.Layout, base arena.Addr, format, outPath string) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if format != "text" && format != "toml" {
		return fmt.Errorf("unknown format %q", format)
	}
	m := buildMap(l, base)
	if outPath == "" {
		return render(os.Stdout, m, format)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %q: %w", outPath, err)
	}
	if err := render(f, m, format); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %q: %w", outPath, err)
	}
	return nil
}

func render(w io.Writer, m layoutMap, format string) error {
	if format == "toml" {
		return toml.NewEncoder(w).Encode(m)
	}
	return writeText(w, m)
}

func hex(a arena.Addr) string { return fmt.Sprintf("%#08x", uint64(a)) }

func buildMap(l arena.Layout, base arena.Addr) layoutMap {
	m := layoutMap{
		DataWords:  l.DataWords,
		StackWords: l.StackWords,
		Threads:    l.Threads,
		TotalBytes: l.Words() * arena.WordSize,
		Base:       hex(base),
		Dispatch:   hex(base + arena.Addr(l.DispatchWord()*arena.WordSize)),
	}
	for i := 0; i < l.Threads; i++ {
		m.Slots = append(m.Slots, slotMap{
			Index:  i,
			Base:   hex(l.StackBase(base, i)),
			Limit:  hex(l.StackLimit(base, i)),
			Canary: hex(l.CanaryAddr(base, i)),
		})
	}
	return m
}

func writeText(w io.Writer, m layoutMap) error {
	if _, err := fmt.Fprintf(w, "arena %s: %d bytes, %d data words, %d slots of %d words\n",
		m.Base, m.TotalBytes, m.DataWords, m.Threads, m.StackWords); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "dispatch word %s\n", m.Dispatch); err != nil {
		return err
	}
	for _, s := range m.Slots {
		if _, err := fmt.Fprintf(w, "slot %3d  base %s  limit %s  canary %s\n", s.Index, s.Base, s.Limit, s.Canary); err != nil {
			return err
		}
	}
	return nil
}
