//go:build !(rp2040 || rp2350)

package fmtx

import (
	"fmt"
	"io"
	"os"
)

// DefaultOutput receives Console log lines when no writer is set.
var DefaultOutput io.Writer = os.Stdout

func Sprintf(format string, a ...any) string    { return fmt.Sprintf(format, a...) }
func Sprint(a ...any) string                    { return fmt.Sprint(a...) }
func Fprint(w io.Writer, a ...any) (int, error) { return fmt.Fprint(w, a...) }
