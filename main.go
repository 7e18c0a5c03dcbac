package main

import (
	"context"
	"flag"
	"sync"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/agent"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/metadata"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/room"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/sink"
	"github.com/TiyaAnlite/FocotServicesCommon/echox"
	"github.com/TiyaAnlite/FocotServicesCommon/envx"
	"github.com/TiyaAnlite/FocotServicesCommon/natsx"
	"github.com/TiyaAnlite/FocotServicesCommon/tracex"
	"github.com/TiyaAnlite/FocotServicesCommon/utils"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"
)

type envConfig struct {
	echox.EchoConfig
	natsx.NatsConfig
	ConfigFile string `json:"config_file" env:"CONFIG_FILE" envDefault:"config.yaml"`
}

var (
	envCfg      = &envConfig{}
	cfg         = &Config{}
	traceHelper = &tracex.ServiceTraceHelper{}
	ctx         *CenterContext
	controller  = &RelayController{}
	echoReady   = make(chan struct{})
)

func init() {
	klog.InitFlags(nil)
}

func main() {
	flag.Parse()
	envx.MustLoadEnv(envCfg)
	envx.MustReadYamlConfig(cfg, envCfg.ConfigFile)
	traceHelper.SetupTrace()

	// build global context
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = &CenterContext{
		Context:  rootCtx,
		Config:   cfg,
		Worker:   &sync.WaitGroup{},
		Registry: prometheus.NewRegistry(),
		Tracer:   traceHelper.NewTracer(),
		Cookies:  agent.NewCookieStore(),
	}
	defer traceHelper.Shutdown(context.Background()) // Exit all 2

	initCtx, initTracer := ctx.Tracer.Start(rootCtx, "Init")
	defer initTracer.End()

	if cfg.NeedNats() {
		_, t1 := ctx.Tracer.Start(initCtx, "Connect NATS")
		ctx.MQ = &natsx.NatsHelper{}
		if err := ctx.MQ.Open(envCfg.NatsConfig); err != nil {
			t1.RecordError(err)
			t1.End()
			klog.Errorf("Cannot connect to NATS: %s", err.Error())
			return
		}
		defer func() {
			if !ctx.MQ.Nc.IsClosed() {
				ctx.MQ.Close()
			}
		}() // Exit all 1
		t1.End()
	}
	if cfg.Global.Cookie != "" {
		ctx.Cookies.SetDefault(cfg.Global.Cookie)
	}

	_, t2 := ctx.Tracer.Start(initCtx, "Build supervisor")
	fetcher, err := metadata.NewFetcher(rootCtx, cfg.MetadataConfig())
	if err != nil {
		t2.RecordError(err)
		t2.End()
		klog.Errorf("Cannot build metadata fetcher: %s", err.Error())
		return
	}
	svOpts := []room.SupervisorOptionFunc{
		room.WithConfig(cfg.Session),
		room.WithMetadataFetcher(fetcher),
		room.WithMetrics(room.NewMetrics(ctx.Registry)),
		room.WithTracer(ctx.Tracer),
	}
	if cfg.Relay.Enabled {
		relay, err := sink.NewNatsRelay(ctx.MQ.Nc, cfg.Relay)
		if err != nil {
			t2.RecordError(err)
			t2.End()
			klog.Errorf("Cannot build NATS relay: %s", err.Error())
			return
		}
		svOpts = append(svOpts, room.WithRelay(relay))
		klog.Infof("Relay enabled, prefix: %s", cfg.Relay.Prefix)
	}
	ctx.Supervisor = room.NewSupervisor(agent.NewFactory(cfg.Agent), svOpts...)
	t2.End()

	go echox.Run(&envCfg.EchoConfig, func(e *echo.Echo) {
		setupRoutes(e)
		close(echoReady)
	})
	<-echoReady

	_, t3 := ctx.Tracer.Start(initCtx, "Init providers")
	providers := make([]RoomProvider, 0, len(cfg.Provider))
	for _, pc := range cfg.Provider {
		provider, err := newProvider(pc)
		if err != nil {
			t3.RecordError(err)
			klog.Fatalf("Provider config error: %s", err.Error())
		}
		providers = append(providers, provider)
	}
	if err := controller.Init(ctx, providers); err != nil {
		t3.RecordError(err)
		klog.Fatalf("Provider init error: %s", err.Error())
	}
	t3.End()
	initTracer.End()

	klog.Info("fire...")
	utils.Wait4CtrlC()
	klog.Info("stopping...")
	cancel()
	ctx.Supervisor.Close()
	echox.Shutdown(&envCfg.EchoConfig)
	ctx.Worker.Wait()
	klog.Info("done")
}
