package main

import (
	"runtime"
	"syscall"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	syscall.Kill(syscall.Getpid(), syscall.SIGKILL)
	select {}
}
