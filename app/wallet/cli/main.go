package main

import (
	"github.com/hubcoin/hubcoin/app/wallet/cli/cmd"
)

func main() {
	cmd.Execute()
}
