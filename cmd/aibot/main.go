package main

import "github.com/nftcoinmkt/aibot/cmd"

func main() {
	cmd.Execute()
}
