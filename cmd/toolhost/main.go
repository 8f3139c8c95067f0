// toolhost runs filesystem tools in a supervised tool server from the
// command line, or exposes them to MCP clients.
package main

import (
	"os"

	"github.com/wagiedev/toolhost-go/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
