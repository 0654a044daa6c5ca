package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/timedshutter2mqtt/internal/metrics"
	"github.com/jkaflik/timedshutter2mqtt/internal/mqtt"
	"github.com/jkaflik/timedshutter2mqtt/internal/shutter/timed"
	"github.com/jkaflik/timedshutter2mqtt/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors: false,
		FullTimestamp: true,
	})

	configPath := flag.String("config", "config.yaml", "config.yaml file path")
	flag.Parse()

	if err := newConfigLoader().Load(); err != nil {
		logrus.Fatal(err)
	}
	if err := loadConfigFromYamlFile(*configPath); err != nil {
		logrus.Fatal(err)
	}
	if err := validateConfig(); err != nil {
		logrus.Fatal(err)
	}

	level, _ := logrus.ParseLevel(Cfg.LogLevel)
	logrus.SetLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var positions timed.PositionStore
	if Cfg.Store.Path != "" {
		bolt, err := store.NewBoltStore(Cfg.Store.Path)
		if err != nil {
			logrus.Fatal(err)
		}
		defer bolt.Close()
		positions = bolt
	} else {
		logrus.Warn("store: no path configured, positions will not survive a restart")
	}

	metrics.Register(prometheus.DefaultRegisterer)
	if Cfg.Metrics.Enabled {
		go serveMetrics(ctx, Cfg.Metrics.Addr)
	}

	// everything is built before Connect, so OnConnect is the only subscriber
	var (
		gateway *mqtt.Gateway
		bridges []*mqtt.Bridge
	)
	opts := pahoOptsFromConfig()
	opts.OnConnect = func(c paho.Client) {
		logrus.Info("MQTT broker connected")
		subscribe(ctx, c, gateway, bridges)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logrus.Errorf("MQTT broker connection lost: %s", err.Error())
	}

	m := paho.NewClient(opts)
	gateway = mqtt.NewGateway(m, Cfg.Gateway.TopicPrefix)
	shutters, bs, err := shuttersFromConfig(ctx, m, gateway, positions)
	if err != nil {
		logrus.Fatal(err)
	}
	bridges = bs

	if token := m.Connect(); token.Wait() && token.Error() != nil {
		logrus.Fatal(token.Error())
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range shutters {
		s := s
		g.Go(func() error {
			return s.Run(gctx)
		})
	}
	logrus.Infof("%d shutters running", len(shutters))

	if err := g.Wait(); err != nil {
		logrus.Error(err)
	}

	logrus.Info("shutting down")
	m.Disconnect(250)
}

// subscribe (re)attaches every MQTT listener and republishes the retained state.
func subscribe(ctx context.Context, m paho.Client, gateway *mqtt.Gateway, bridges []*mqtt.Bridge) {
	if err := gateway.Subscribe(ctx); err != nil {
		logrus.Error(err)
	}

	for _, bridge := range bridges {
		if Cfg.HASS.Enabled {
			entity := mqtt.NewHACoverFromMQTTBridge(bridge, version)
			if err := mqtt.PublishHAAutoDiscovery(m, Cfg.HASS.TopicPrefix, entity); err != nil {
				logrus.Error(err)
			}
		}

		if err := bridge.Subscribe(ctx); err != nil {
			logrus.Error(err)
		}
		if err := bridge.PublishMetadata(); err != nil {
			logrus.Error(err)
		}
		bridge.PublishState()
	}
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logrus.Infof("metrics: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.Errorf("metrics: %s", err)
	}
}
