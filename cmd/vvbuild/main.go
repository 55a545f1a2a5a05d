package main

import "github.com/goplus/vvbuild/cmd/vvbuild/internal"

func main() {
	internal.Execute()
}
