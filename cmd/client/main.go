package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ripple-chat/config"
	"ripple-chat/internal/calls"
	"ripple-chat/internal/session"
)

func main() {
	cfg := config.LoadConfig()

	ctx := context.Background()
	sess, err := session.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build session: %v", err)
	}
	defer sess.Close()

	if err := sess.Start(ctx); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}

	sess.Calls.OnEvent(func(ev calls.Event) {
		switch ev.Kind {
		case calls.EventIncomingRinging:
			sess.Log.Infof("incoming %s call from %s in thread %s", ev.Request.Type, ev.Request.CallerName, ev.ThreadID)
		case calls.EventOutgoingRinging:
			sess.Log.Infof("calling thread %s (%s)", ev.ThreadID, ev.Request.Type)
		case calls.EventConnected:
			sess.Log.Infof("call connected in thread %s", ev.ThreadID)
		case calls.EventEnded:
			sess.Log.Infof("call ended in thread %s", ev.ThreadID)
		}
	})

	threads, err := sess.Cache.LoadThreads(ctx)
	if err != nil {
		sess.Log.Errorf("loading threads: %v", err)
	} else {
		sess.Log.Infof("session ready: %d threads", len(threads))
		for _, t := range threads {
			if err := sess.Cache.OpenThread(ctx, t.ID); err != nil {
				sess.Log.Warnf("opening thread %s: %v", t.ID, err)
			}
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sess.Log.Infof("shutting down")
}
