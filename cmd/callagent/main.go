// Command callagent joins an appointment's video call from a machine with a
// camera and microphone.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"telehealth-server/internal/apiclient"
	"telehealth-server/internal/call"
	"telehealth-server/internal/config"
	"telehealth-server/internal/media"
	"telehealth-server/internal/peer"
	"telehealth-server/internal/signaling"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func main() {
	appointmentID := flag.String("appointment", "", "id of the appointment to join")
	envFile := flag.String("env", ".env", "environment file to load")
	flag.Parse()

	if *appointmentID == "" {
		fmt.Fprintln(os.Stderr, "usage: callagent -appointment <id> [-env file]")
		os.Exit(2)
	}
	if err := godotenv.Load(*envFile); err != nil {
		log.Warn().Err(err).Str("file", *envFile).Msg("No env file loaded, using the process environment")
	}

	cfg, err := config.LoadAgentConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := apiclient.New(cfg.ServerURL, log.Logger)
	loginCtx, cancel := context.WithTimeout(ctx, cfg.Call.StoreTimeout)
	user, err := api.Login(loginCtx, cfg.Email, cfg.Password)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Login failed")
	}

	mgr, err := call.NewManager(call.Config{
		Store:         api,
		Media:         media.NewDeviceSource(log.Logger),
		Channels:      peer.NewFactory(cfg.Call.ICEServers, log.Logger),
		Relay:         signaling.NewClient(cfg.ServerURL, api.Token, log.Logger),
		RecoveryDelay: cfg.Call.RecoveryDelay,
		StoreTimeout:  cfg.Call.StoreTimeout,
		Heartbeat:     cfg.Call.Heartbeat,
		Logger:        &log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating call session")
	}
	defer mgr.Close()

	snaps, unsubscribe := mgr.Subscribe()
	defer unsubscribe()
	if err := mgr.Start(*appointmentID, user.ID); err != nil {
		log.Fatal().Err(err).Msg("Error starting call session")
	}

	con := &console{ctl: mgr, out: os.Stdout, hangupTimeout: cfg.Call.StoreTimeout + time.Second}
	fmt.Fprintln(os.Stdout, usage)
	lines := readLines(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Interrupted, leaving the call")
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if con.show(snap) {
				return
			}
		case line, ok := <-lines:
			if !ok || con.handle(line) {
				return
			}
		}
	}
}
