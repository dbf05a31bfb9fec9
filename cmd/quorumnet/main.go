package main

import (
	"github.com/onflow/quorumnet/cmd/quorumnet/cmd"
)

func main() {
	cmd.Execute()
}
