package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// WatchInterrupt returns a context cancelled on SIGINT/SIGTERM. The fleet
// pass drains cooperatively after cancellation (in-flight provider calls
// finish, nothing new is dispatched); if the process is still alive after
// forceShutdownDelay it is killed.
func WatchInterrupt(ctx context.Context, forceShutdownDelay time.Duration) context.Context {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		<-sigs
		log.Warnf("interrupt received, draining in-flight operations, killing in %s...", forceShutdownDelay)
		cancel()
		timer := time.NewTimer(forceShutdownDelay)
		<-timer.C
		log.Warnf("still not drained after %s, exiting immediately", forceShutdownDelay)
		os.Exit(1)
	}()

	return ctx
}
