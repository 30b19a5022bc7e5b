package main

import "github.com/kizashix/devstack/cmd/devstack/cmd"

func main() {
	cmd.Execute()
}
