package main

import "github.com/edgeflare/cfbridge/cmd/cfbridge"

func main() {
	cfbridge.Main()
}
