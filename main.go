// The main package for the jlpt-grammar-crawler executable.
package main

import (
	"os"

	"github.com/JakeFAU/jlpt-grammar-crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
