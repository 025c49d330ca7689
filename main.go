package main

import (
	"github.com/amberdns/amberdns/internal/cmd"
)

func main() {
	cmd.Main()
}
