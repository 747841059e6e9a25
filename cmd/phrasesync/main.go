package main

import (
	"os"

	"github.com/tinloof/sanity-plugin-phrase/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
