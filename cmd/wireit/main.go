package main

import (
	"fmt"
	"os"

	"github.com/wireit-go/wireit/internal/atexit"
)

func main() {
	os.Exit(run())
}

func run() int {
	err := Execute()
	if cerr := atexit.Run(); cerr != nil && err == nil {
		err = cerr
	}
	if err == nil {
		return 0
	}
	if ec, ok := err.(*exitCodeError); ok {
		return ec.code
	}
	fmt.Fprintln(os.Stderr, "wireit: "+err.Error())
	return 1
}
