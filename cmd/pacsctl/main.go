// Command pacsctl is the operator CLI for the index: run indexing,
// search patients, and inspect devices without going through the HTTP
// API.
package main

import "pacs-index/cmd/pacsctl/commands"

func main() {
	commands.Execute()
}
