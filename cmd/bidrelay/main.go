package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drblury/bidrelay"
	"github.com/drblury/bidrelay/internal/relay/client"
	configpkg "github.com/drblury/bidrelay/internal/relay/config"
	"github.com/drblury/bidrelay/internal/relay/jsoncodec"
	"github.com/drblury/bidrelay/internal/relay/logging"
	"github.com/drblury/bidrelay/internal/relay/wire"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bidrelay",
		Short: "Auction event relay",
		Long:  "bidrelay validates auction events against a fixed schema catalogue and fans them out to WebSocket subscribers.",
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newSchemasCommand())
	rootCmd.AddCommand(newListenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level, format string) logging.ServiceLogger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return logging.NewSlogServiceLogger(slog.New(handler))
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the relay server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			listen, _ := cmd.Flags().GetString("listen")
			pingInterval, _ := cmd.Flags().GetDuration("ping-interval")
			heartbeat, _ := cmd.Flags().GetDuration("heartbeat-interval")
			ringCapacity, _ := cmd.Flags().GetInt("ring-capacity")
			corsOrigins, _ := cmd.Flags().GetStringSlice("cors-origin")
			metricsEnabled, _ := cmd.Flags().GetBool("metrics")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			conf, err := configpkg.FromEnv()
			if err != nil {
				return err
			}
			if listen != "" {
				conf.ListenAddress = listen
			}
			if pingInterval > 0 {
				conf.PingInterval = pingInterval
			}
			if heartbeat > 0 {
				conf.RelayHeartbeatInterval = heartbeat
			}
			if ringCapacity > 0 {
				conf.RingCapacity = ringCapacity
			}
			if len(corsOrigins) > 0 {
				conf.CORSAllowedOrigins = corsOrigins
			}
			if metricsEnabled {
				conf.MetricsEnabled = true
			}

			logger := newLogger(logLevel, logFormat)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			service, err := bidrelay.TryNewService(conf, logger, bidrelay.ServiceDependencies{})
			if err != nil {
				return err
			}
			return service.Run(ctx)
		},
	}
	cmd.Flags().String("listen", "", "Listen address (default :3001, or BIDRELAY_LISTEN_ADDRESS)")
	cmd.Flags().Duration("ping-interval", 0, "Liveness ping interval (default 30s)")
	cmd.Flags().Duration("heartbeat-interval", 0, "Relay heartbeat broadcast interval (default 5s)")
	cmd.Flags().Int("ring-capacity", 0, "Recent events retained for catch-up reads (default 20)")
	cmd.Flags().StringSlice("cors-origin", nil, "Allowed CORS origin, repeatable; use * for development")
	cmd.Flags().Bool("metrics", false, "Expose Prometheus metrics on /metrics")
	cmd.Flags().String("log-level", os.Getenv("BIDRELAY_LOG_LEVEL"), "Log level: debug|info|warn|error")
	cmd.Flags().String("log-format", os.Getenv("BIDRELAY_LOG_FORMAT"), "Log format: text|json")
	return cmd
}

func apiURL() string {
	if v := os.Getenv("BIDRELAY_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:3001"
}

func newPublishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an auction event over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			eventType, _ := cmd.Flags().GetString("event-type")
			auctionID, _ := cmd.Flags().GetString("auction")
			rawData, _ := cmd.Flags().GetString("data")

			var data map[string]any
			if err := jsoncodec.Unmarshal([]byte(rawData), &data); err != nil {
				return fmt.Errorf("invalid --data: %w", err)
			}

			body, err := jsoncodec.Marshal(map[string]any{
				"eventType": eventType,
				"auctionId": auctionID,
				"data":      data,
			})
			if err != nil {
				return err
			}

			resp, err := http.Post(apiURL()+"/publish-event", "application/json", strings.NewReader(string(body)))
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var out map[string]any
			if err := jsoncodec.Decode(resp.Body, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().String("event-type", "BID_PLACED", "Event type from the schema catalogue")
	cmd.Flags().String("auction", "", "Auction id")
	cmd.Flags().String("data", "{}", "Event data as JSON, matching the schema's fields exactly")
	_ = cmd.MarkFlagRequired("auction")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connected clients and active subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/status")
		},
	}
}

func newSchemasCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schemas",
		Short: "List the event-type catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/schemas")
		},
	}
}

func newListenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Subscribe over WebSocket and print events as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			eventType, _ := cmd.Flags().GetString("event-type")
			auctionID, _ := cmd.Flags().GetString("auction")
			wsURL, _ := cmd.Flags().GetString("url")
			logLevel, _ := cmd.Flags().GetString("log-level")

			logger := newLogger(logLevel, "text")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := client.New(client.Options{
				URL:    wsURL,
				Logger: logger,
				OnEvent: func(env wire.Envelope) {
					if err := printJSON(env); err != nil {
						logger.Error("Failed to print event", err, nil)
					}
				},
				OnStateChange: func(state client.State) {
					logger.Info("Connection state changed", logging.LogFields{"state": state.String()})
				},
			})
			if err != nil {
				return err
			}

			c.Connect(ctx)
			defer c.Close()
			if err := c.Subscribe(eventType, auctionID); err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().String("event-type", "BID_PLACED", "Event type to subscribe to")
	cmd.Flags().String("auction", "", "Auction id; empty subscribes to every auction")
	cmd.Flags().String("url", "ws://127.0.0.1:3001/ws", "Relay WebSocket endpoint")
	cmd.Flags().String("log-level", "info", "Log level: debug|info|warn|error")
	return cmd
}

func getJSON(path string) error {
	resp, err := http.Get(apiURL() + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := jsoncodec.Decode(resp.Body, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func printJSON(v any) error {
	raw, err := jsoncodec.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Println(string(raw))
	return err
}
