package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/speters/xbeed/config"
	"github.com/speters/xbeed/logging"
	"github.com/speters/xbeed/xbee"
)

var configFile = pflag.StringP("config", "f", "", "configuration `file` (yaml, toml or json)")
var httpServe = pflag.StringP("serve", "s", "", "start http server at [bindtohost][:]port")
var connTo = pflag.StringP("connect", "c", "", "connection string, use socket://[host]:[port] for TCP or [serialDevice] for direct serial connection")
var baud = pflag.Int("baud", 9600, "baud rate for serial connections")
var output = pflag.StringP("output", "o", "", "switch a digital output once connected, e.g. 0:on or 3:off")
var verbose = pflag.BoolP("verbose", "v", false, "verbose logging")

var cpuprofile = pflag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = pflag.String("memprofile", "", "write memory profile to `file`")

// To be set via go build -ldflags "-X main.buildVersion=$(git describe --dirty) -X main.buildDate=$(date -u +%FT%TZ)"
var buildVersion = "unspecified"
var buildDate = "unknown"

// parseOutput reads [pin]:on|off
func parseOutput(s string) (xbee.Pin, xbee.PinState, error) {
	p, st, found := strings.Cut(s, ":")
	if !found {
		return 0, 0, fmt.Errorf("Expected [pin]:on|off, got %q", s)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(p), "D"))
	if err != nil || n < 0 || n > int(xbee.Pin7) {
		return 0, 0, fmt.Errorf("%w: %q", xbee.ErrPin, p)
	}
	switch strings.ToLower(st) {
	case "on", "1", "high":
		return xbee.Pin(n), xbee.PinOn, nil
	case "off", "0", "low":
		return xbee.Pin(n), xbee.PinOff, nil
	}
	return 0, 0, fmt.Errorf("Expected on or off, got %q", st)
}

func frameFields(f xbee.Frame) log.Fields {
	fields := log.Fields{
		"id":             f.ID,
		"api_identifier": fmt.Sprintf("0x%02x", f.APIIdentifier()),
		"len":            len(f.Payload),
	}
	if r, ok := f.RemoteATCommandRequest(); ok {
		fields["command"] = r.CommandName()
		fields["parameter"] = fmt.Sprintf("0x%02x", r.Parameter)
	}
	return fields
}

func receive(dev *xbee.Device, history *frameHistory) {
	for f := range dev.Frames() {
		log.WithFields(frameFields(f)).Info("Received frame")
		history.Add(f)
	}
}

func main() {
	pflag.Parse()

	cfg, err := config.Load(*configFile, pflag.CommandLine)
	if err != nil {
		log.Fatal(err)
	}
	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal(err)
	}
	defer logCloser.Close()

	if cfg.Device.Link == "" {
		log.Fatal("Need connection string in -c option")
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := xbee.NewMetrics(reg)

	framing, err := xbee.ParseFraming(cfg.Device.DataBits, cfg.Device.Parity, cfg.Device.StopBits)
	if err != nil {
		log.Fatal(err)
	}
	opts := []xbee.DeviceOption{
		xbee.WithBaud(cfg.Device.Baud),
		framing,
		xbee.WithFrameBuffer(cfg.Device.FrameBuffer),
		xbee.WithMetrics(metrics),
	}
	if cfg.Device.RatePerSecond > 0 {
		opts = append(opts, xbee.WithRateLimit(rate.Limit(cfg.Device.RatePerSecond), cfg.Device.Burst))
	}
	conn := xbee.NewDevice(opts...)
	if err := conn.Connect(cfg.Device.Link); err != nil {
		log.Fatal(err)
	}

	history := newFrameHistory(cfg.History.Size)
	go receive(conn, history)

	if *output != "" {
		pin, state, err := parseOutput(*output)
		if err != nil {
			log.Fatal(err)
		}
		if err := conn.DigitalOutput(ctx, pin, state); err != nil {
			log.Error(err)
		} else {
			log.Infof("Pin %d switched %v", pin, state)
		}
	}

	var h *http.Server
	if cfg.HTTP.Addr != "" {
		s := &server{dev: conn, history: history, timeout: cfg.HTTP.WriteTimeout}
		router := s.router()
		if cfg.Metrics.Enable {
			router.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})).Methods("GET")
		}

		// accept :[portnum] as well as [portnum]
		addr := cfg.HTTP.Addr
		if i, err := strconv.Atoi(addr); err == nil {
			addr = fmt.Sprintf(":%d", i)
		}

		h = &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		}
		go func() {
			if err := h.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Error(err)
			}
		}()
		log.Infof("Serving http at %v", addr)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down")
			if h != nil {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				h.Shutdown(sctx)
				cancel()
			}
			conn.Close()
			writeMemProfile()
			return
		case <-conn.Done():
		}

		select {
		case <-ctx.Done():
			continue
		case <-time.After(cfg.Device.ReconnectDelay):
		}
		if err := conn.Reconnect(); err != nil {
			log.Error(err)
		} else {
			log.Infof("Reconnected")
		}
	}
}

func writeMemProfile() {
	if *memprofile == "" {
		return
	}
	f, err := os.Create(*memprofile)
	if err != nil {
		log.Error("could not create memory profile: ", err)
		return
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Error("could not write memory profile: ", err)
	}
}
