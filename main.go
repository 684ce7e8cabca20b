package main

import (
	"github.com/dbg-project/dbg/cmd/dbg"
)

func main() {
	dbg.Execute()
}
