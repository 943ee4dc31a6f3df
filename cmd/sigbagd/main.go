package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	raven "github.com/getsentry/raven-go"
	"github.com/spf13/pflag"

	"github.com/ndlib/sigbag/config"
	"github.com/ndlib/sigbag/server"
)

func main() {
	var (
		configFile = pflag.StringP("config", "c", "", "TOML configuration file")
		listen     = pflag.String("listen", "", "address to listen on, overriding the configuration")
		storage    = pflag.StringP("storage", "s", "", "storage location, overriding the configuration")
		version    = pflag.Bool("version", false, "print the version and exit")
	)
	pflag.Parse()

	if *version {
		fmt.Println(server.Version)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalln(err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *storage != "" {
		cfg.Storage = *storage
	}
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		raven.SetDSN(dsn)
		raven.SetRelease(server.Version)
	}

	log.Printf("Using storage %q", cfg.Storage)
	if cfg.CacheSize > 0 {
		log.Printf("Using cache %q, %d bytes", cfg.CacheDir, cfg.CacheSize)
	}
	repo, err := cfg.Repository()
	if err != nil {
		log.Fatalln(err)
	}
	s := &server.RESTServer{
		Addr:          cfg.Listen,
		Repository:    repo,
		MaxUpload:     cfg.MaxUpload,
		TempDir:       cfg.TempDir,
		MaxConcurrent: cfg.MaxConcurrent,
	}
	if cfg.Tokens != "" {
		log.Printf("Reading tokens from %s", cfg.Tokens)
		s.Validator, err = server.NewListDecoderFile(cfg.Tokens)
		if err != nil {
			log.Fatalln(err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Received signal, stopping")
		if err := s.Stop(); err != nil {
			log.Println(err)
		}
	}()

	if err := s.Run(); err != nil {
		log.Fatalln(err)
	}
}
