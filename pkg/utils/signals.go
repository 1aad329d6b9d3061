package utils

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/srand/jolt/engine/pkg/log"
)

func init() {
	ch := make(chan os.Signal, 10)
	signal.Notify(ch, syscall.SIGUSR1)

	go func() {
		for range ch {
			buf := make([]byte, 1<<16)
			len := runtime.Stack(buf, true)
			fmt.Printf("%s\n", buf[:len])
		}
	}()
}

// Returns a context that is cancelled on SIGINT or SIGTERM.
// A second signal terminates the process immediately.
func TerminateOnSignal() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-ch
		log.Info("Received signal", sig, "- shutting down")
		cancel()
		sig = <-ch
		log.Fatal("Received signal", sig, "- terminating")
	}()

	return ctx
}
