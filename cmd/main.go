package main

import "cryptolaw-rag/internal/cli"

func main() {
	cli.Execute()
}
