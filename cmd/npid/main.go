// Command npid runs the NPI bridge: it owns the UART link to an IEEE
// 802.15.4 co-processor and exposes it to any number of TCP clients.
package main

import (
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/coprocbridge/mtnpi/bytestream"
	"github.com/coprocbridge/mtnpi/mtmsg"
	"github.com/coprocbridge/mtnpi/npi"
)

func main() {
	var (
		uartDevice   = flag.String("uart-device", "/dev/ttyUSB0", "serial device connected to the co-processor")
		uartBaud     = flag.Int("uart-baud", 115200, "serial baud rate")
		listenAddr   = flag.String("listen", ":5567", "TCP address to accept NPI clients on")
		metricsAddr  = flag.String("metrics-listen", ":9567", "address to serve Prometheus metrics on, empty to disable")
		frameSync    = flag.Bool("frame-sync", true, "require a leading sync byte on every frame")
		checksum     = flag.Bool("checksum", true, "append/verify a trailing XOR checksum")
		len2Bytes    = flag.Bool("len-2bytes", false, "use a 2-byte length field instead of 1")
		fragSize     = flag.Int("fragment-size", 256, "maximum outbound payload size before fragmenting")
		resetTimeout = flag.Duration("reset-timeout", 3*time.Second, "time to wait for SYS_RESET_IND after reset")
		logLevel     = flag.String("log-level", "info", "logrus level: debug, info, warn, error")
	)
	flag.Parse()

	lvl, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.WithError(err).Fatal("invalid -log-level")
	}
	logrus.SetLevel(lvl)

	uart, err := bytestream.OpenUART(bytestream.UARTConfig{
		Device:   *uartDevice,
		BaudRate: *uartBaud,
	})
	if err != nil {
		logrus.WithError(err).WithField("device", *uartDevice).Fatal("failed to open UART device")
	}

	cfg := npi.Apply(npi.DefaultConfig(),
		npi.WithUARTDevice(*uartDevice),
		npi.WithUARTBaudRate(*uartBaud),
		npi.WithListenAddr(*listenAddr),
		npi.WithResetTimeout(*resetTimeout),
	)
	cfg.InterfaceOptions = nil
	cfg = npi.Apply(cfg, npi.WithInterfaceOptions(
		mtmsg.WithFrameSync(*frameSync),
		mtmsg.WithChecksum(*checksum),
		mtmsg.WithLen2Bytes(*len2Bytes),
		mtmsg.WithFragmentSize(*fragSize),
	))

	server, err := npi.NewServer(uart, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create NPI server")
	}

	if err := server.ResetCoprocessor(cfg.ResetTimeout); err != nil {
		logrus.WithError(err).Warn("co-processor reset handshake failed, continuing anyway")
	}

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(server.Metrics())
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logrus.WithError(err).Warn("metrics listener stopped")
			}
		}()
		logrus.WithField("addr", *metricsAddr).Info("serving metrics")
	}

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		logrus.WithError(err).WithField("addr", *listenAddr).Fatal("failed to listen for NPI clients")
	}
	logrus.WithField("addr", *listenAddr).Info("accepting NPI clients")

	if err := server.Serve(ln); err != nil {
		logrus.WithError(err).Error("server stopped")
		os.Exit(1)
	}
}
