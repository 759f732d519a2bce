// Fakesite is a small HTTP server for exercising the site monitor by hand.
// Each endpoint produces one sample outcome.
//
// Usage:
//
//	go run ./scripts/fakesite -port 8081 -token "Welcome" -delay 3s
//
// Endpoints:
//   - /ok       200 with the expected token in the body
//   - /slow     200 with the token after -delay
//   - /down     503
//   - /notoken  200 without the token
//   - /flaky    alternates between /ok and /slow
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	token := flag.String("token", "Welcome", "token included in healthy pages")
	delay := flag.Duration("delay", 3*time.Second, "response delay for /slow")
	flag.Parse()

	page := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Request-Id", uuid.NewString())
		fmt.Fprintf(w, "<html><body>%s</body></html>", body)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		page(w, *token)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(*delay):
		case <-r.Context().Done():
			return
		}
		page(w, *token)
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/notoken", func(w http.ResponseWriter, r *http.Request) {
		page(w, "maintenance")
	})

	var hits atomic.Int64
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1)%2 == 0 {
			time.Sleep(*delay)
		}
		page(w, *token)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("starting fake site on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
