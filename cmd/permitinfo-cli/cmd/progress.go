package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"permitinfo-backend/internal/progress"
	"time"
)

// printSink writes the progress of a session to the terminal and saves any
// screenshot it carries to disk.
type printSink struct {
	out   io.Writer
	dir   string
	shots int
}

func newPrintSink() *printSink {
	return &printSink{out: os.Stderr, dir: snapshotDir}
}

func (s *printSink) Send(ev progress.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Log != "" {
		fmt.Fprintf(s.out, "%s  %s\n", ev.Time.Format(time.TimeOnly), ev.Log)
	}
	if len(ev.Image) == 0 {
		return
	}
	s.shots++
	path := filepath.Join(s.dir, fmt.Sprintf("snapshot_%03d.png", s.shots))
	err := os.WriteFile(path, ev.Image, 0600)
	if err != nil {
		fmt.Fprintf(s.out, "could not save screenshot: %s\n", err)
		return
	}
	fmt.Fprintf(s.out, "screenshot saved to %s\n", path)
}

func (s *printSink) Close() {}
