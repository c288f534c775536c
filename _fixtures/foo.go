package main

import (
	"os"
	"runtime"
)

func init() {
	runtime.LockOSThread()
}

func foo(n int) int {
	x := n * 2 // foo body
	return x + 1
}

func main() {
	if foo(20) != 41 { // call foo
		os.Exit(3)
	}
}
