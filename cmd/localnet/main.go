package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omni/intent-bridge/bus"
	"github.com/omni/intent-bridge/config"
	"github.com/omni/intent-bridge/db"
	"github.com/omni/intent-bridge/localnet"
	"github.com/omni/intent-bridge/logging"
	"github.com/omni/intent-bridge/repository"
)

func main() {
	logger := logging.NewText()

	cfg, err := config.ReadConfigFromFile("config.yml")
	if err != nil {
		logger.WithError(err).Fatal("can't read config")
	}
	logger.SetLevel(cfg.LogLevel)

	var repo *repository.Repo
	if cfg.DBConfig != nil {
		dbConn, err2 := db.ConnectToDBAndMigrate(cfg.DBConfig)
		if err2 != nil {
			logger.WithError(err2).Fatal("can't connect to database and apply migrations")
		}
		defer dbConn.Close()
		repo = repository.NewRepo(dbConn)
	} else {
		logger.Warn("postgres is not configured, state is kept in memory")
		repo = repository.NewMemoryRepo()
	}

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		err := http.ListenAndServe(":2112", nil)
		if err != nil {
			logger.WithError(err).Fatal("can't start listener for prometheus metrics")
		}
	}()

	network, err := localnet.New(logger, cfg, repo, nil)
	if err != nil {
		logger.WithError(err).Fatal("can't initialize localnet")
	}
	if err = network.ApplyGenesis(); err != nil {
		logger.WithError(err).Fatal("can't apply genesis balances")
	}

	if cfg.NATS != nil {
		publisher, err2 := bus.NewPublisher(logger.WithField("service", "bus"), cfg.NATS)
		if err2 != nil {
			logger.WithError(err2).Fatal("can't connect message bus")
		}
		defer publisher.Close()
		network.SetPublisher(publisher)
	}

	if cfg.Presenter != nil && network.Presenter != nil {
		go func() {
			err := network.Presenter.Serve(cfg.Presenter.Host)
			if err != nil {
				logger.WithError(err).Fatal("can't serve presenter")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := network.Start(ctx)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
	logger.Warn("caught CTRL-C, gracefully terminating")
	cancel()
	wg.Wait()
}
