package main

import "permitinfo-backend/cmd/permitinfo-cli/cmd"

func main() {
	cmd.Execute()
}
