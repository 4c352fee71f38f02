package main

import (
	"os"

	"github.com/JakeFAU/sitecrawl/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
