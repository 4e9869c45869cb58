package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"

	"kartserver/server"
)

// 卡丁车权威服务器入口：kartserver [flags] [port]
func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "optional dotenv file with KART_* settings")
	host := flag.String("host", "", "listen host")
	kcpAddr := flag.String("kcp", "", "KCP listen address, e.g. :7778 (empty disables)")
	httpAddr := flag.String("http", "", "admin/websocket HTTP address, e.g. :8080")
	tick := flag.Int("tick", 0, "simulation tick rate (Hz)")
	capacity := flag.Int("capacity", 0, "max players per room")
	logFile := flag.String("log-file", "", "log file path (rotated); stderr when empty")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := server.LoadConfig(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	// 命令行显式指定的参数覆盖环境变量
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "kcp":
			cfg.KCPAddr = *kcpAddr
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "tick":
			cfg.TickRate = *tick
		case "capacity":
			cfg.RoomCapacity = *capacity
		case "log-file":
			cfg.LogFile = *logFile
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if arg := flag.Arg(0); arg != "" {
		port, err := strconv.Atoi(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid port %q\n", arg)
			return 1
		}
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log, err := server.NewLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	srv := server.NewServer(cfg, log)
	if err := srv.Start(); err != nil {
		log.Errorf("start: %v", err)
		color.Red("failed to start: %v", err)
		return 1
	}
	color.Cyan("=== Kart Racing Dedicated Server ===")
	color.Green("listening on %s (tick %d Hz, %d players/room); Ctrl+C to stop", srv.Addr(), cfg.TickRate, cfg.RoomCapacity)

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnf("shutdown: %v", err)
		color.Yellow("shutdown incomplete: %v", err)
		return 0
	}
	color.Green("server shut down successfully")
	return 0
}
