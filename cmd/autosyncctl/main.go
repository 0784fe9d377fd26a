package main

import "autosync/cmd/autosyncctl/cmd"

func main() {
	cmd.Execute()
}
