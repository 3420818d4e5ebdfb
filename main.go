package main

import "github.com/frahmantamala/charge-orchestrator/cmd"

func main() {
	cmd.Execute()
}
