package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"timewarp/client"
	"timewarp/reconcile"
	"timewarp/server"
)

// timewarp 入口：serve 启动权威服务端，bot 启动压测客户端，schema 导出线上协议
func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "timewarp",
		Short:         "Rollback world synchronizer",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newBotCommand())
	cmd.AddCommand(newSchemaCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	var (
		configPath string
		addr       string
		logFile    string
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authoritative server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("log") {
				cfg.LogFile = logFile
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "server listen address, e.g. :8080")
	cmd.Flags().StringVar(&logFile, "log", "timewarp.log", "rolling log file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	return cmd
}

func serve(ctx context.Context, cfg server.Config) error {
	if err := server.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		return err
	}
	defer server.SyncLogger()

	rm := server.NewRoomManager(cfg)
	defer rm.Close()
	// 先预创建默认房间，便于快速试跑
	_ = rm.GetOrCreateRoom(cfg.DefaultRoom)

	mux := rm.Routes()
	if cfg.Static != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.Static)))
	}
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		server.Log.Infof("timewarp listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			server.Log.Errorf("listen: %v", err)
			return err
		}
	case <-ctx.Done():
	}
	server.Log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newBotCommand() *cobra.Command {
	var (
		url      string
		room     string
		clientID string
		count    int
		interval time.Duration
		verbose  bool
	)
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Connect random-playing clients to a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zap.NewNop()
			if verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				log = l
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eg, ctx := errgroup.WithContext(ctx)
			for i := 0; i < count; i++ {
				id := clientID
				if id != "" && count > 1 {
					id = fmt.Sprintf("%s-%d", clientID, i)
				}
				conn, err := client.Dial(ctx, client.Options{URL: url, Room: room, ClientID: id, Log: log})
				if err != nil {
					// 先关闭并等待已建立的连接
					stop()
					_ = eg.Wait()
					return err
				}
				bot := client.NewBot(conn, interval, uint64(time.Now().UnixNano())+uint64(i))
				eg.Go(func() error { return conn.Run(ctx) })
				eg.Go(func() error { return bot.Run(ctx) })
			}
			return eg.Wait()
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8080/ws", "server websocket endpoint")
	cmd.Flags().StringVar(&room, "room", "room-1", "room to join")
	cmd.Flags().StringVar(&clientID, "client", "", "client id (random when empty)")
	cmd.Flags().IntVar(&count, "count", 1, "number of bots")
	cmd.Flags().DurationVar(&interval, "interval", 200*time.Millisecond, "delay between intents")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
	return cmd
}

func newSchemaCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the wire protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(reconcile.Schema(), "", "  ")
			if err != nil {
				return fmt.Errorf("marshal schema: %w", err)
			}
			data = append(data, '\n')
			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path (stdout when empty)")
	return cmd
}
