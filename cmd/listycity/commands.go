package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/bft-labs/listycity/internal/adapters/websocket"
	"github.com/bft-labs/listycity/internal/cliconfig"
	"github.com/bft-labs/listycity/pkg/listy"
	"github.com/bft-labs/listycity/pkg/log"
)

// shutdownTimeout bounds HTTP server shutdown.
const shutdownTimeout = 5 * time.Second

func (c *cli) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the list on every change until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg := c.metricsRegistry()

			l, err := c.newListy(reg, listy.WithListListener(func(list listy.ListState, cause listy.ChangeCause) {
				fmt.Fprintf(c.out, "-- %s (generation %d)\n", cause, list.Generation)
				printList(c.out, list, listy.Selection{})
			}))
			if err != nil {
				return err
			}
			defer l.Close()

			stopMetrics := c.serveMetrics(reg)
			defer stopMetrics()

			if err := l.Start(ctx); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			<-ctx.Done()
			c.logger.Info("received signal, stopping")
			return l.Stop()
		},
	}
}

func (c *cli) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the current list and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, list, err := c.openSynced(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer l.Close()
			printList(c.out, list, listy.Selection{})
			return nil
		},
	}
}

func (c *cli) addCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add NAME PROVINCE",
		Short: "Add a city, replacing any city with the same name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := c.newListy(nil)
			if err != nil {
				return err
			}
			defer l.Close()

			rec := listy.Record{Name: args[0], Province: args[1]}
			if err := l.Add(cmd.Context(), rec); err != nil {
				return err
			}
			if rec.HasName() {
				fmt.Fprintf(c.out, "saved %s\n", rec)
			}
			return nil
		},
	}
}

func (c *cli) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete the city with the given name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, list, err := c.openSynced(ctx, nil)
			if err != nil {
				return err
			}
			defer l.Close()

			index := list.IndexOf(args[0])
			if index < 0 {
				return fmt.Errorf("%w: %s", listy.ErrNoSuchRow, args[0])
			}
			if err := l.SelectForDeletion(list.Entries[index].Record); err != nil {
				return err
			}
			return l.Delete(ctx)
		},
	}
}

func (c *cli) shellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Read list commands from standard input",
		Long: `Read list commands from standard input, one per line:

  list                       print the list
  select N                   select row N for deletion
  delete                     delete the selected row
  add NAME PROVINCE          add a city
  edit N NAME PROVINCE       edit row N
  quit                       leave the shell

Quote names containing spaces: add "Moose Jaw" SK`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg := c.metricsRegistry()
			l, _, err := c.openSynced(ctx, reg)
			if err != nil {
				return err
			}
			defer l.Close()

			stopMetrics := c.serveMetrics(reg)
			defer stopMetrics()

			sh := &shell{listy: l, out: c.out}
			return sh.run(ctx, c.in)
		},
	}
}

func (c *cli) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured collection to WebSocket clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Store == cliconfig.DriverWS {
				return errors.New("serve needs a local store, not ws")
			}
			ctx := cmd.Context()

			openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			store, err := listy.OpenStore(openCtx, c.libConfig(), c.logger)
			cancel()
			if err != nil {
				return err
			}
			defer store.Close()

			ws := websocket.NewServer(c.logger)
			ws.Handle(c.cfg.Collection, store)

			reg := c.metricsRegistry()
			if reg != nil {
				reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
					Namespace: "listycity",
					Name:      "server_connections",
					Help:      "Connected WebSocket clients.",
				}, func() float64 { return float64(ws.Connections()) }))
			}
			stopMetrics := c.serveMetrics(reg)
			defer stopMetrics()

			srv := &http.Server{
				Addr:              c.cfg.Listen,
				Handler:           ws,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			c.logger.Info("serving collection",
				log.String("listen", c.cfg.Listen),
				log.String("path", websocket.CollectionPath+c.cfg.Collection),
				log.String("store", c.cfg.Store),
			)

			select {
			case err := <-errCh:
				_ = ws.Close()
				return fmt.Errorf("listen: %w", err)
			case <-ctx.Done():
				c.logger.Info("received signal, stopping")
			}

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			err = srv.Shutdown(shutdownCtx)
			_ = ws.Close()
			return err
		},
	}
	cmd.Flags().StringVar(&c.cfg.Listen, "listen", c.cfg.Listen, "address to serve the collection on")
	return cmd
}

// newListy creates a library instance with the CLI's logger and a notifier
// printing to the output.
func (c *cli) newListy(reg *prometheus.Registry, opts ...listy.Option) (*listy.Listy, error) {
	all := []listy.Option{
		listy.WithLogger(c.logger),
		listy.WithNotifier(listy.NotifierFunc(func(n listy.Notice) {
			fmt.Fprintln(c.out, n.Message)
		})),
	}
	if reg != nil {
		all = append(all, listy.WithPrometheus(reg))
	}
	l, err := listy.New(c.libConfig(), append(all, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create listy: %w", err)
	}
	return l, nil
}

// openSynced starts an instance and waits for its first snapshot.
func (c *cli) openSynced(ctx context.Context, reg *prometheus.Registry) (*listy.Listy, listy.ListState, error) {
	first := make(chan listy.ListState, 1)
	l, err := c.newListy(reg, listy.WithListListener(func(list listy.ListState, cause listy.ChangeCause) {
		if cause != listy.ChangeSnapshot {
			return
		}
		select {
		case first <- list:
		default:
		}
	}))
	if err != nil {
		return nil, listy.ListState{}, err
	}
	if err := l.Start(ctx); err != nil {
		_ = l.Close()
		return nil, listy.ListState{}, fmt.Errorf("start: %w", err)
	}

	select {
	case list := <-first:
		return l, list, nil
	case <-ctx.Done():
		_ = l.Close()
		return nil, listy.ListState{}, ctx.Err()
	}
}

// metricsRegistry returns a registry with the Go runtime collectors when
// metrics are enabled, or nil.
func (c *cli) metricsRegistry() *prometheus.Registry {
	if c.cfg.MetricsAddr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// serveMetrics serves reg at /metrics on the metrics address and returns a
// function that shuts the server down. A nil reg serves nothing.
func (c *cli) serveMetrics(reg *prometheus.Registry) func() {
	if reg == nil {
		return func() {}
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	srv := &http.Server{
		Addr:              c.cfg.MetricsAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server", log.Err(err))
		}
	}()
	c.logger.Info("serving metrics", log.String("addr", c.cfg.MetricsAddr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
