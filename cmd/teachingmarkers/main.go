// Command teachingmarkers serves interactive teaching markers and keeps the
// static part of the frame tree alive for late subscribers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/OCAP2/teachingmarkers/internal/api"
	"github.com/OCAP2/teachingmarkers/internal/config"
)

func main() {
	flags := pflag.NewFlagSet("teachingmarkers", pflag.ExitOnError)
	configDir := flags.StringP("config", "c", ".", "directory containing "+config.FileName)
	flags.String("log-level", "", "override logLevel (debug, info, warn, error)")
	flags.String("transport", "", "override transport.type (latched, websocket, redis)")
	_ = flags.Parse(os.Args[1:])

	if err := config.Load(*configDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config, using defaults: %v\n", err)
	}
	bindOverride(flags, "log-level", "logLevel")
	bindOverride(flags, "transport", "transport.type")

	if strings.ToLower(flags.Arg(0)) == "healthcheck" {
		os.Exit(healthcheck())
	}

	a, err := newApp(time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := a.run(ctx)
	if runErr != nil {
		a.logger.Error("Server stopped with error", "error", runErr)
	}
	if err := a.shutdown(); err != nil {
		a.logger.Error("Shutdown incomplete", "error", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

// bindOverride copies a flag into viper only when it was set.
func bindOverride(flags *pflag.FlagSet, name, key string) {
	if f := flags.Lookup(name); f != nil && f.Changed {
		_ = viper.BindPFlag(key, f)
	}
}

// healthcheck probes the admin API of a running server.
func healthcheck() int {
	listen := config.GetAPIConfig().Listen
	if strings.HasPrefix(listen, ":") {
		listen = "localhost" + listen
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := api.NewClient("http://" + listen).Healthcheck(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("ok")
	return 0
}
