package main

import "github.com/aporthq/aport-go/cmd/aport-demo/cmd"

func main() {
	cmd.Execute()
}
