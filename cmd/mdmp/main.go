package main

import "github.com/lauramurakaru/mdmp/internal/cli"

func main() {
	cli.Execute()
}
