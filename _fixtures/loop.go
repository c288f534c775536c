package main

import "runtime"

func init() {
	runtime.LockOSThread()
}

var total int

func foo(n int) {
	total += n // loop body
}

func main() {
	for i := 0; i < 3; i++ {
		foo(i)
	}
	if total != 3 {
		panic(total)
	}
}
