// Command throttled serves throttle checks over HTTP.
//
// Policies and the Counter Store come from a YAML file (see package config).
// Each policy is a list of limiters evaluated against the key (policy, subject):
//
//	POST   /v1/throttles/{policy}/{subject}   count one action and decide
//	GET    /v1/throttles/{policy}/{subject}   inspect counts and locks
//	DELETE /v1/throttles/{policy}/{subject}   clear counts and locks
//	GET    /metrics                           Prometheus metrics
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nhalm/brakepedal"
	"github.com/nhalm/brakepedal/config"
	"github.com/nhalm/brakepedal/metrics"
)

func main() {
	if err := config.LoadEnvFiles(".env"); err != nil {
		log.Fatalf("failed to load environment: %v", err)
	}

	configPath := flag.String("config", envOr("BRAKEPEDAL_CONFIG", "brakepedal.yaml"), "path to the YAML configuration file")
	addr := flag.String("addr", envOr("BRAKEPEDAL_ADDR", ":8080"), "listen address")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	policies, err := cfg.Limiters()
	if err != nil {
		return err
	}

	st, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := append(cfg.EvaluatorOptions(), brakepedal.WithObserver(metrics.NewRecorder(reg)))
	ev := brakepedal.NewEvaluator(brakepedal.NewRepository(st, cfg.RepositoryOptions()...), opts...)

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(&server{evaluator: ev, policies: policies, failOpen: cfg.FailOpen}, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s (store=%s, policies=%d)", addr, cfg.Store.Driver, len(policies))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func envOr(name, fallback string) string {
	if val := os.Getenv(name); val != "" {
		return val
	}
	return fallback
}
