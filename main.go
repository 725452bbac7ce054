package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jvietorisz/BeamAlignment/internal/monitor"
	"github.com/jvietorisz/BeamAlignment/internal/scandb"
)

var (
	dbFile = flag.String("db", "alignment_data.db", "Path to the scan database")
	listen = flag.String("listen", ":8080", "Listen address")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	db, err := scandb.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open scan database: %v", err)
	}
	defer db.Close()

	srv := &http.Server{
		Addr:    *listen,
		Handler: monitor.NewServer(db).ServeMux(),
	}

	go func() {
		log.Printf("monitor listening on %s (db %s)", *listen, *dbFile)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
