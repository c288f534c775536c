package main

import (
	"runtime"
	"time"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	for {
		time.Sleep(10 * time.Millisecond)
	}
}
