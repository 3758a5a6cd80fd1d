package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chadiek/fretcheck/internal/capture"
	"github.com/chadiek/fretcheck/internal/config"
	"github.com/chadiek/fretcheck/internal/httpserver"
	"github.com/chadiek/fretcheck/internal/transcribe"
	"github.com/chadiek/fretcheck/internal/verify"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the practice-UI surface (sessions, verdict stream, WebRTC capture)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()

		srv := httpserver.New(httpserver.Deps{
			EngineConfig: verify.DefaultGuitar(),
			NewAdapter: func() transcribe.Adapter {
				return newAdapter(cfg)
			},
			NewDeviceSource: func() capture.Source {
				return capture.NewDevice(capture.DeviceConfig{
					SampleRate: cfg.SampleRate,
					Channels:   cfg.Channels,
				})
			},
		})
		defer srv.Close()

		server := &http.Server{
			Addr:              cfg.HTTPAddress,
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			log.Printf("server listening on %s", cfg.HTTPAddress)
			serverErrors <- server.ListenAndServe()
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
		case sig := <-sigChan:
			log.Printf("shutdown signal received: %v", sig)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
			_ = server.Close()
		}
		return nil
	},
}
