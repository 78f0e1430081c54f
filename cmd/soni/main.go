// Command soni is the dialogue engine CLI: it validates flow documents,
// runs interactive chats against them, and manages checkpointed sessions.
package main

import (
	"os"

	"github.com/sonilabs/soni/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
