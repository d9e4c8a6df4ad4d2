// Command qsh is an interactive, POSIX-flavored command shell.
package main

import (
	"os"

	"github.com/tjper/qsh/internal/qshcli"
)

func main() {
	os.Exit(qshcli.Run())
}
