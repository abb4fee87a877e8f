package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/wisun2metrics/internal/adapter/actor"
	"github.com/berfenger/wisun2metrics/internal/config"
	"github.com/berfenger/wisun2metrics/internal/core/actor"
	"github.com/berfenger/wisun2metrics/internal/metrics"
	"github.com/berfenger/wisun2metrics/internal/serialport"
	"github.com/berfenger/wisun2metrics/internal/server"
	"github.com/berfenger/wisun2metrics/internal/util"
	"github.com/berfenger/wisun2metrics/internal/util/actorutil"
	"github.com/berfenger/wisun2metrics/pkg/meter"
	"github.com/berfenger/wisun2metrics/pkg/wisun"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	quartzlogger "github.com/reugn/go-quartz/logger"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, fatal <-chan error, done chan error) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal or a broken meter link.
	var cause error
	select {
	case <-ctx.Done():
		log.Println("shutting down gracefully, press Ctrl+C again to force")
	case cause = <-fatal:
		log.Printf("meter link failed, shutting down: %v", cause)
	}

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- cause
}

func main() {
	os.Exit(run())
}

func run() int {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return 1
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	quartzlogger.SetDefault(util.NewQuartzLogger(logger))

	// open modem
	port, err := serialport.Open(cfg.SmartMeter, logger)
	if err != nil {
		logger.Error("could not open serial device", zap.String("device", cfg.SmartMeter.Device), zap.Error(err))
		return 1
	}
	defer port.Close()
	conn := wisun.NewConnection(port, cfg.SmartMeter.ConnectionOptions(), logger)
	defer conn.Close()

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	// metrics sink
	es := &eventstream.EventStream{}
	exporter := metrics.NewExporter(logger)
	exporter.Subscribe(es)

	fatal := make(chan error, 1)
	onFatal := func(err error) {
		select {
		case fatal <- err:
		default:
		}
	}

	var mqttProv actor.MQTTActorProvider
	if cfg.MQTT.Enable {
		mqttProv = mqttActorProvider(cfg, logger)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, es, meterActorProvider(cfg, conn, logger), mqttProv, onFatal, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		logger.Error("could not spawn master actor", zap.Error(err))
		return 1
	}

	server := server.NewServer(*cfg, ctx, pid, exporter.Handler())
	// Create a done channel to signal when the shutdown is complete
	done := make(chan error, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, fatal, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		logger.Error("http server error", zap.Error(err))
		return 1
	}

	// Wait for the graceful shutdown to complete
	cause := <-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	exporter.Unsubscribe(es)
	as.Shutdown()

	if cause != nil {
		return 1
	}
	return 0
}

func initConfig() (*config.Config, error) {

	// alias PORT => SMARTMETER_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SMARTMETER_PORT", port)
	}
	// alias SMARTMETER_GET_INTERVAL (seconds) => SMARTMETER_SMARTMETER_POLL_INTERVAL_MILLIS
	if interval := os.Getenv("SMARTMETER_GET_INTERVAL"); interval != "" {
		if seconds, err := strconv.ParseFloat(interval, 64); err == nil {
			os.Setenv("SMARTMETER_SMARTMETER_POLL_INTERVAL_MILLIS", strconv.Itoa(int(seconds*1000)))
		}
	}

	setConfigDefaults()

	viper.SetEnvPrefix("smartmeter")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// SMARTMETER_ID, SMARTMETER_PASSWORD and SMARTMETER_DEVICE
	for _, key := range []string{"id", "password", "device"} {
		_ = viper.BindEnv("smartmeter."+key, "SMARTMETER_"+strings.ToUpper(key), "SMARTMETER_SMARTMETER_"+strings.ToUpper(key))
	}
	_ = viper.BindEnv("log_level", "SMARTMETER_LOG_LEVEL", "SMARTMETER_LOGLEVEL")

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch strings.ToLower(viper.GetString("log_level")) {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn", "warning":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func meterActorProvider(cfg *config.Config, conn *wisun.Connection, logger *zap.Logger) actor.MeterActorProvider {
	// validated already
	unit, _ := meter.ParseCurrentUnit(cfg.SmartMeter.CurrentUnit)
	return func(es *eventstream.EventStream) *adactor.MeterActor {
		return adactor.NewMeterActor(conn, meter.NewInterpreter(unit), es, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("port", 8000)
	viper.SetDefault("http_log", false)
	viper.SetDefault("smartmeter.id", "")
	viper.SetDefault("smartmeter.password", "")
	viper.SetDefault("smartmeter.device", "/dev/ttyS0")
	viper.SetDefault("smartmeter.baud_rate", 115200)
	viper.SetDefault("smartmeter.poll_interval_millis", 10000)
	viper.SetDefault("smartmeter.current_unit", "A")
	viper.SetDefault("smartmeter.scan.min_duration", 4)
	viper.SetDefault("smartmeter.scan.max_duration", 10)
	viper.SetDefault("smartmeter.read_timeout_millis", 1000)
	viper.SetDefault("smartmeter.blank_read_limit", 5)
	viper.SetDefault("smartmeter.max_resends", 3)
	viper.SetDefault("smartmeter.quiet_period_millis", 1000)
	viper.SetDefault("mqtt.enable", false)
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "wisun")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.SmartMeter.Password = "*redacted*"
	slog.Info("Using", "config", fmt.Sprintf("%+v", cfg))
}
