package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"

	"github.com/kushan-developer/thermal-printer/internal/job"
	"github.com/kushan-developer/thermal-printer/internal/manager"
	"github.com/kushan-developer/thermal-printer/internal/server"
	"github.com/kushan-developer/thermal-printer/internal/transport"
)

func main() {
	port := flag.String("port", "8080", "HTTP listen port")
	dbPath := flag.String("db", "app.db", "sqlite database path")
	noUSB := flag.Bool("no-usb", false, "disable the USB transport")
	noBLE := flag.Bool("no-ble", false, "disable the BLE transport")
	flag.Parse()

	var transports []transport.Transport
	if !*noUSB {
		usb := transport.NewUSB()
		defer usb.Close()
		transports = append(transports, usb)
	}
	if !*noBLE {
		transports = append(transports, transport.NewBLE())
	}
	if len(transports) == 0 {
		slog.Error("All transports disabled, nothing to drive")
		os.Exit(1)
	}

	m := manager.New(transports...)

	repository, err := NewRepository(*dbPath)
	if err != nil {
		slog.Error("Couldn't open printer registry", "err", err)
		os.Exit(1)
	}

	s := &server.Server{
		Manager:    m,
		Jobs:       job.New(m),
		Repository: repository,
	}

	slog.Info("Starting server", "port", *port)
	if err := http.ListenAndServe(":"+*port, s.Routes()); err != nil {
		slog.Error("Server stopped", "err", err)
		os.Exit(1)
	}
}
