// Local webhook receiver for manual testing.
// Usage: go run scripts/receiver/main.go -secret 0123456789abcdef -fail-rate 0.2
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/AbdullahHassan176/hookrelay/internal/signature"
)

var (
	requestCount uint64
	successCount uint64
	failureCount uint64
	badSigCount  uint64
)

func main() {
	port := flag.Int("port", 9999, "port to listen on")
	secret := flag.String("secret", "", "endpoint secret; verifies X-Signature when set")
	fail := flag.Bool("fail", false, "return 500 errors")
	failRate := flag.Float64("fail-rate", 0, "random failure rate (0.0-1.0)")
	latency := flag.Int("latency", 0, "response latency in ms")
	quiet := flag.Bool("quiet", false, "suppress per-request logging")
	flag.Parse()

	// Stats reporter
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		for range ticker.C {
			total := atomic.LoadUint64(&requestCount)
			if total > 0 {
				fmt.Printf("[STATS] Total: %d | Success: %d | Failures: %d | Bad signatures: %d\n",
					atomic.LoadUint64(&requestCount),
					atomic.LoadUint64(&successCount),
					atomic.LoadUint64(&failureCount),
					atomic.LoadUint64(&badSigCount))
				atomic.StoreUint64(&requestCount, 0)
				atomic.StoreUint64(&successCount, 0)
				atomic.StoreUint64(&failureCount, 0)
				atomic.StoreUint64(&badSigCount, 0)
			}
		}
	}()

	http.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddUint64(&requestCount, 1)

		if *latency > 0 {
			time.Sleep(time.Duration(*latency) * time.Millisecond)
		}

		body, _ := io.ReadAll(r.Body)
		sig := r.Header.Get("X-Signature")

		if *secret != "" {
			if !signature.Verify(canonicalPayload(body, sig), []byte(*secret), sig) {
				atomic.AddUint64(&badSigCount, 1)
				if !*quiet {
					fmt.Printf("[REQ] Event-ID: %s | BAD SIGNATURE\n", r.Header.Get("X-Event-Id"))
				}
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte("invalid signature"))
				return
			}
		}

		shouldFail := *fail || (*failRate > 0 && rand.Float64() < *failRate)

		if !*quiet {
			fmt.Printf("[REQ] Event-ID: %s | Type: %s | Fail: %v\n",
				r.Header.Get("X-Event-Id"),
				r.Header.Get("X-Event-Type"),
				shouldFail)
			if len(body) > 0 && len(body) < 300 {
				fmt.Printf("      Body: %s\n", string(body))
			}
		}

		if shouldFail {
			atomic.AddUint64(&failureCount, 1)
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("simulated failure"))
		} else {
			atomic.AddUint64(&successCount, 1)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		}
	})

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", *port)
	fmt.Printf("Webhook receiver listening on %s\n", addr)
	fmt.Printf("  Verify signatures: %v\n", *secret != "")
	fmt.Printf("  Fail mode: %v | Fail rate: %.1f%%\n", *fail, *failRate*100)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// canonicalPayload strips the embedded signature field from the request
// body, recovering the exact bytes the sender signed. The field is always
// the last member of the top-level object.
func canonicalPayload(body []byte, sig string) []byte {
	suffix := []byte(`,"signature":"` + sig + `"}`)
	if !bytes.HasSuffix(body, suffix) {
		return body
	}
	canonical := make([]byte, 0, len(body)-len(suffix)+1)
	canonical = append(canonical, body[:len(body)-len(suffix)]...)
	return append(canonical, '}')
}
