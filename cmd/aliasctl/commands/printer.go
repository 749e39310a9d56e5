package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

func success(w io.Writer, format string, a ...any) {
	green.Fprintf(w, "✓ %s\n", fmt.Sprintf(format, a...))
}

func warning(w io.Writer, format string, a ...any) {
	yellow.Fprintf(w, "! %s\n", fmt.Sprintf(format, a...))
}

func heading(w io.Writer, format string, a ...any) {
	cyan.Fprintf(w, "%s\n", fmt.Sprintf(format, a...))
}

// failure 输出错误及逐条说明，返回给 cobra 的简短错误
func failure(w io.Writer, title string, details ...string) error {
	red.Fprintf(w, "%s\n", title)
	for _, line := range details {
		fmt.Fprintf(w, "  %s\n", line)
	}
	return fmt.Errorf("%s", strings.ToLower(title))
}
