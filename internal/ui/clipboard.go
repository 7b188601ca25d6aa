// Package ui holds shared helpers for the grantly terminal interface.
package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ClipboardWriter copies text to the system clipboard via the platform's
// clipboard tool, degrading gracefully when none is installed.
type ClipboardWriter struct {
	tool []string
	err  string
}

// NewClipboardWriter detects the available clipboard tool.
func NewClipboardWriter() *ClipboardWriter {
	cw := &ClipboardWriter{}
	switch runtime.GOOS {
	case "darwin":
		cw.pick([][]string{{"pbcopy"}})
	case "linux":
		cw.pick([][]string{
			{"xclip", "-selection", "clipboard"},
			{"xsel", "--clipboard", "--input"},
			{"wl-copy"},
		})
		if cw.tool == nil {
			cw.err = "clipboard tool not found (install xclip, xsel, or wl-copy)"
		}
	case "windows":
		cw.pick([][]string{{"clip"}})
	default:
		cw.err = fmt.Sprintf("unsupported platform: %s", runtime.GOOS)
	}
	if cw.tool == nil && cw.err == "" {
		cw.err = "clipboard tool not found"
	}
	return cw
}

func (cw *ClipboardWriter) pick(candidates [][]string) {
	for _, c := range candidates {
		if _, err := exec.LookPath(c[0]); err == nil {
			cw.tool = c
			return
		}
	}
}

// IsAvailable returns whether clipboard operations are supported.
func (cw *ClipboardWriter) IsAvailable() bool {
	return cw.tool != nil
}

// Write copies text to the system clipboard.
func (cw *ClipboardWriter) Write(text string) error {
	if cw.tool == nil {
		return fmt.Errorf("clipboard unavailable: %s", cw.err)
	}
	cmd := exec.Command(cw.tool[0], cw.tool[1:]...)
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}
