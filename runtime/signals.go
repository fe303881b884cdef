package runtime

import (
	"os"
	"os/signal"
	"syscall"
)

// WatchSignals trips token on SIGTERM or SIGINT and calls reload on SIGHUP.
// The returned function stops watching and waits for the watcher to exit.
func WatchSignals(token *Token, reload func()) (stop func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-quit:
				return
			case sig := <-ch:
				if sig == syscall.SIGHUP {
					if reload != nil {
						reload()
					}
					continue
				}
				token.Terminate(&SignalError{Signal: sig})
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(quit)
		<-done
	}
}
