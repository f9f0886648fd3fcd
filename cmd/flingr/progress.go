package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
)

// progressPrinter renders transfer percentages. On a terminal it redraws
// one line; otherwise it prints every tenth percent.
type progressPrinter struct {
	w    io.Writer
	size int64
	tty  bool
	last int
}

func newProgressPrinter(w io.Writer, size int64, tty bool) *progressPrinter {
	return &progressPrinter{w: w, size: size, tty: tty, last: -1}
}

func (p *progressPrinter) update(percent int) {
	if percent == p.last {
		return
	}
	prev := p.last
	p.last = percent

	if p.tty {
		done := p.size * int64(percent) / 100
		fmt.Fprintf(p.w, "\r%3d%%  %s / %s", percent, humanize.IBytes(uint64(done)), humanize.IBytes(uint64(p.size)))
		return
	}
	if percent/10 != prev/10 || prev < 0 {
		fmt.Fprintf(p.w, "%d%%\n", percent)
	}
}

func (p *progressPrinter) finish() {
	if p.tty && p.last >= 0 {
		fmt.Fprintln(p.w)
	}
}
