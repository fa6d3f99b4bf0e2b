package main

import (
	"os"

	"github.com/katalog/produk-server/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
