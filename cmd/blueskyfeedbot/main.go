// Command blueskyfeedbot posts new feed entries to Bluesky.
package main

import (
	"fmt"
	"os"

	"github.com/joschi/blueskyfeedbot/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
