package main

import "github.com/chapool/go-wallet-signer/cmd"

func main() {
	cmd.Execute()
}
