package main

import (
	"github.com/troylu8/chuuni-keys-server/cmd"
)

func main() {
	cmd.Execute()
}
