package main

import "github.com/TruWeaveTrader/plat-ibkr/cmd"

func main() {
	cmd.Execute()
}
