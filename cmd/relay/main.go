package main

import (
	"log"
	"net/http"

	"github.com/BelikovArtem/relay/internal/catalog"
	"github.com/BelikovArtem/relay/internal/config"
	"github.com/BelikovArtem/relay/internal/mq"
	"github.com/BelikovArtem/relay/internal/registry"
	"github.com/BelikovArtem/relay/internal/relay"
	"github.com/BelikovArtem/relay/internal/ws"

	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.Lshortfile | log.Ldate | log.Ltime)

	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("cannot load configuration: %s", err)
	}

	reg := registry.New(cfg.LedgerCap)
	cat := catalog.New(catalog.DefaultSeed())
	dispatcher := relay.NewDispatcher(reg, cat)

	var mirror *mq.Mirror
	if cfg.AMQPURL != "" {
		d, err := mq.NewDialer(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("cannot connect to RabbitMQ: %s", err)
		}
		defer d.Release()

		mirror, err = mq.NewMirror(d)
		if err != nil {
			log.Fatalf("cannot declare the mirror topology: %s", err)
		}
		defer mirror.Close()
	}

	s := ws.NewServer(dispatcher, reg, mirror, cfg.MaxMessageSize)
	defer s.Close()

	http.HandleFunc("GET /ws", s.HandleNewConnection)
	http.HandleFunc("GET /healthz", ws.HandleHealth)

	log.Printf("relay listening on %s", cfg.Addr)
	http.ListenAndServe(cfg.Addr, nil)
}
