// Package app wires every component into one running service: the
// unicast receiver, the dispatcher, the lifecycle controller, the HTTP
// control plane, the detector, and the recording sink. Grounded on the
// teacher's main.go construct-then-wire sequencing and graceful-shutdown
// pattern (os/signal + context cancellation in place of the teacher's
// server.Close()).
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chuffdetect/callsentry/internal/config"
	"github.com/chuffdetect/callsentry/internal/controlplane"
	"github.com/chuffdetect/callsentry/internal/detector"
	"github.com/chuffdetect/callsentry/internal/dispatcher"
	"github.com/chuffdetect/callsentry/internal/fingerprint"
	"github.com/chuffdetect/callsentry/internal/lifecycle"
	"github.com/chuffdetect/callsentry/internal/metrics"
	"github.com/chuffdetect/callsentry/internal/receiver"
	"github.com/chuffdetect/callsentry/internal/recordsink"
	"github.com/chuffdetect/callsentry/internal/templatelib"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

const maxConcurrentFingerprints = 4
const maxConcurrentRecordWrites = 4

// App owns every long-running component and their lifetimes.
type App struct {
	cfg     config.Config
	log     *xlog.Logger
	metrics *metrics.Metrics

	receiver   *receiver.Receiver
	dispatcher *dispatcher.Dispatcher
	controller *lifecycle.Controller
	handler    *controlplane.Handler
	detector   *detector.Detector
	sink       *recordsink.Sink

	httpServer *http.Server
}

// New constructs every component but does not start any goroutines.
func New(cfg config.Config, log *xlog.Logger) (*App, error) {
	m := metrics.New()

	engine := fingerprint.New(fingerprint.DefaultParams8kHz())
	library, err := templatelib.Load(cfg.TemplateFolderPath, fingerprint.DefaultParams8kHz().SampleRate, engine, xlog.New("templatelib"))
	if err != nil {
		return nil, fmt.Errorf("app: load templates: %w", err)
	}

	recv, err := receiver.New(cfg.AppUnicastHost, cfg.AppUnicastPort, cfg.AppUnicastBufferSize, xlog.New("receiver"), m)
	if err != nil {
		return nil, fmt.Errorf("app: start receiver: %w", err)
	}

	controller := lifecycle.New(xlog.New("lifecycle"), m)

	sinkFolder := cfg.RecordsFolderPath
	sink := recordsink.New(sinkFolder, maxConcurrentRecordWrites, xlog.New("recordsink"))
	controller.SetOnContainerFinished(sink.Handle)

	disp := dispatcher.New(controller, xlog.New("dispatcher"), m)

	pngFolder := ""
	if cfg.SavePNGMatchDetection {
		pngFolder = "fingerprint_record"
	}
	det := detector.New(controller, engine, library, maxConcurrentFingerprints, pngFolder, xlog.New("detector"), m)

	handler := controlplane.New(controller, xlog.New("controlplane"))

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	return &App{
		cfg:        cfg,
		log:        log,
		metrics:    m,
		receiver:   recv,
		dispatcher: disp,
		controller: controller,
		handler:    handler,
		detector:   det,
		sink:       sink,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.AppAPIHost, cfg.AppAPIPort),
			Handler: mux,
		},
	}, nil
}

// Run starts every component and blocks until ctx is cancelled, then
// tears everything down in reverse order.
func (a *App) Run(ctx context.Context) error {
	go a.receiver.Run(ctx)
	go a.dispatcher.Run(ctx, a.receiver.Batches())
	go a.detector.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.log.Printf("listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	a.log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.WaitShutdown)*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Printf("error closing server: %v", err)
	}
	a.receiver.Close()
	return nil
}
