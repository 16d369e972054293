package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/s00inx/staticserver/server"
)

func main() {
	cfg, err := server.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if !errors.Is(err, server.ErrUsage) {
			fmt.Fprintln(os.Stderr, server.ErrUsage)
		}
		os.Exit(2)
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetOutput(os.Stdout)

	srv, err := server.New(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("error starting server")
	}
	logrus.WithFields(logrus.Fields{
		"addr": fmt.Sprintf("127.0.0.1:%d", srv.Port()),
		"dir":  cfg.Dir,
	}).Info("serving files")

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logrus.WithError(err).Fatal("event loop failed")
	}
	logrus.Info("server gracefully stopped")
}
