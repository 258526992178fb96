package main

import (
	"go-issue-mirror/cmd/issue-mirror/cmd"
)

func main() {
	cmd.Execute()
}
