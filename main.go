package main

import "github.com/folder-mcp/folder-mcp-daemon/cmd"

func main() {
	cmd.Execute()
}
