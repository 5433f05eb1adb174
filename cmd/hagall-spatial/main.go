package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/hagall-spatial/featureflag"
	spatialhttp "github.com/aukilabs/hagall-spatial/http"
	"github.com/aukilabs/hagall-spatial/models"
	"github.com/aukilabs/hagall-spatial/modules"
	"github.com/aukilabs/hagall-spatial/modules/dagaz"
	"github.com/aukilabs/hagall-spatial/spatial"
	hwebsocket "github.com/aukilabs/hagall-spatial/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The server version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "hagall_spatial_info",
		Help:        "Server information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// Keeps the config field names readable by the cli package when the binary is
// obfuscated. https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"HAGALL_ADDR"                  help:"Listening address for client connections."`
	AdminAddr          string        `cli:""        env:"HAGALL_ADMIN_ADDR"            help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"HAGALL_PUBLIC_ENDPOINT"       help:"The public endpoint where this server is reachable."`
	ServerID           string        `cli:""        env:"HAGALL_SERVER_ID"             help:"The server id used as global session id prefix. Generated when empty."`
	LogLevel           string        `cli:""        env:"HAGALL_LOG_LEVEL"             help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"HAGALL_LOG_INDENT"            help:"Indent logs."`
	SyncClockInterval  time.Duration `cli:",hidden" env:"HAGALL_SYNC_CLOCK_INTERVAL"   help:"Client sync clock (heartbeat) message interval."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"HAGALL_CLIENT_IDLE_TIMEOUT"   help:"Time until an idle client will be disconnected"`
	FrameDuration      time.Duration `cli:",hidden" env:"HAGALL_FRAME_DURATION"        help:"The duration of a session frame."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"HAGALL_LOG_SUMMARY_INTERVAL"  help:"The duration between each log summary by connection."`
	Entity             entityConfig  `cli:""        env:"-"                            help:"Entity octree configuration."`
	InterestRadius     float64       `cli:""        env:"HAGALL_INTEREST_RADIUS"       help:"Radius around a moved entity where participants receive its pose updates. 0 broadcasts to everyone."`
	Dagaz              dagazConfig   `cli:",hidden" env:"-"                            help:"Dagaz ground plane octree configuration."`
	Events             eventsConfig  `cli:",hidden" env:"-"                            help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"HAGALL_FEATURE_FLAGS"         help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                            help:"Show version."`
	Help               bool          `cli:""        env:"-"                            help:"Show help."`
}

type entityConfig struct {
	UniverseExtent       float64 `cli:"" env:"HAGALL_ENTITY_UNIVERSE_EXTENT"       help:"Half extent in meters of the cube where session entities can be posed."`
	SubdivisionThreshold float64 `cli:"" env:"HAGALL_ENTITY_SUBDIVISION_THRESHOLD" help:"Half extent in meters under which octree cells are not split."`
	Extent               float64 `cli:"" env:"HAGALL_ENTITY_EXTENT"                help:"Half extent in meters of the box indexed around each entity position."`
}

type dagazConfig struct {
	UniverseExtent       float64 `cli:",hidden" env:"HAGALL_DAGAZ_UNIVERSE_EXTENT"       help:"Half extent in meters of the cube where ground planes can be sampled."`
	SubdivisionThreshold float64 `cli:",hidden" env:"HAGALL_DAGAZ_SUBDIVISION_THRESHOLD" help:"Half extent in meters under which ground plane cells are not split."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"HAGALL_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"HAGALL_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"HAGALL_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"HAGALL_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	entityIndex := models.DefaultEntityIndexConfig()

	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		PublicEndpoint:     "http://localhost:4000",
		LogLevel:           logs.InfoLevel.String(),
		SyncClockInterval:  time.Second * 5,
		ClientIdleTimeout:  time.Minute * 5,
		FrameDuration:      time.Millisecond * 15,
		LogSummaryInterval: time.Minute,
		Entity: entityConfig{
			UniverseExtent:       float64(entityIndex.UniverseExtent),
			SubdivisionThreshold: float64(entityIndex.SubdivisionThreshold),
			Extent:               float64(entityIndex.EntityExtent),
		},
		Dagaz: dagazConfig{
			UniverseExtent:       1024,
			SubdivisionThreshold: 1,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts a realtime server that indexes session entities in an octree.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "hagall-spatial",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	featureFlags := featureflag.New(conf.FeatureFlags)
	if unknown := featureFlags.Unknown(); len(unknown) != 0 {
		logs.WithTag("feature_flags", unknown).Info("ignoring unknown feature flags")
	}

	serverID := conf.ServerID
	if serverID == "" {
		serverID = uuid.NewString()
	}

	sessions := models.SessionStore{
		DiscoveryService: models.StaticServerID(serverID),
	}

	var ready atomic.Bool
	readinessCheck := ready.Load

	var service http.ServeMux
	service.Handle("/health", spatialhttp.HandleWithCORS(http.HandlerFunc(spatialhttp.HandleHealthCheck)))
	service.Handle("/version", spatialhttp.HandleWithCORS(spatialhttp.HandleVersion(version)))
	service.Handle("/ready", spatialhttp.HandleWithCORS(spatialhttp.HandleReadyCheck(readinessCheck)))

	service.Handle("/", spatialhttp.HandleWithCORS(websocket.Server{
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var rh hwebsocket.Handler = &hwebsocket.RealtimeHandler{
				ClientSyncClockInterval: conf.SyncClockInterval,
				ClientIdleTimeout:       conf.ClientIdleTimeout,
				FrameDuration:           conf.FrameDuration,
				EntityIndex:             entityIndexConfig(conf),
				InterestRadius:          float32(conf.InterestRadius),
				Sessions:                &sessions,
				Modules:                 newModules(conf),
				FeatureFlags:            featureFlags,
			}
			h := hwebsocket.HandlerWithLogs(rh, conf.LogSummaryInterval)
			h = hwebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			hwebsocket.Handle(ctx, conn, h)
		},
	}))

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", spatialhttp.HandleHealthCheck)
	admin.HandleFunc("/ready", spatialhttp.HandleReadyCheck(readinessCheck))
	admin.HandleFunc("/debug/spatial", spatialhttp.HandleSpatialDebug(&sessions))
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("server_id", serverID).
		WithTag("entity_index", entityIndexConfig(conf)).
		WithTag("interest_radius", conf.InterestRadius).
		Info("starting hagall spatial server")

	ready.Store(true)
	go func() {
		<-ctx.Done()
		ready.Store(false)
	}()

	spatialhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			spatialhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

func newModules(conf config) []modules.Module {
	return []modules.Module{
		&dagaz.Module{
			UniverseExtent:       float32(conf.Dagaz.UniverseExtent),
			SubdivisionThreshold: float32(conf.Dagaz.SubdivisionThreshold),
		},
	}
}

func entityIndexConfig(conf config) models.EntityIndexConfig {
	return models.EntityIndexConfig{
		UniverseExtent:       float32(conf.Entity.UniverseExtent),
		SubdivisionThreshold: float32(conf.Entity.SubdivisionThreshold),
		EntityExtent:         float32(conf.Entity.Extent),
	}
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if err := entityIndexConfig(conf).Validate(); err != nil {
		return errors.New("invalid entity index configuration").Wrap(err)
	}

	if conf.InterestRadius < 0 {
		return errors.New("interest radius is negative").
			WithTag("interest_radius", conf.InterestRadius)
	}

	if conf.Dagaz.SubdivisionThreshold <= 0 || conf.Dagaz.SubdivisionThreshold >= conf.Dagaz.UniverseExtent {
		return errors.New("invalid dagaz configuration").
			WithType(spatial.ErrTypeInvalidConfig).
			WithTag("universe_extent", conf.Dagaz.UniverseExtent).
			WithTag("subdivision_threshold", conf.Dagaz.SubdivisionThreshold)
	}

	return nil
}
