// Command labrpcd serves the instruments listed in a YAML file over the
// line-oriented RPC protocol.
//
//	labrpcd -config labrpcd.yaml
//
// Every device becomes a parameter subtree, for example "psu:query=*IDN?".
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-labrpc/internal/config"
	"github.com/arloliu/go-labrpc/internal/daemon"
	"github.com/arloliu/go-labrpc/logger"
	"github.com/arloliu/go-labrpc/transport/serialport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "labrpcd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "labrpcd.yaml", "path to the configuration file")
	listPorts := flag.Bool("list-ports", false, "list the serial ports and exit")
	flag.Parse()

	if *listPorts {
		ports, err := serialport.Ports()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Println(p)
		}

		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log := logger.NewSlog(cfg.LogLevel(), false)
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, daemon.WithLogger(log))
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		_ = d.Close()
		return err
	}

	<-ctx.Done()
	log.Info("exit signal received")

	if err := d.Close(); err != nil {
		log.Error("shutdown finished with errors", "error", err)
		return err
	}
	log.Info("shutdown finished")

	return nil
}
