// Command loadtest drives concurrent uploads and listings against a running
// archive and reports latency percentiles and status codes.
//
// Usage:
//
//	go run ./cmd/loadtest [-url http://localhost:3000] [-concurrency 10] [-duration 30s]
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls one load test run.
type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	// ReadRatio is the share of requests that list instead of ingest.
	ReadRatio float64
}

// Stats accumulates request outcomes across workers.
type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	latencies     map[string][]time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make(map[string][]time.Duration),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(kind string, duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies[kind] = append(s.latencies[kind], duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

// submission is one canned conversation upload.
type submission struct {
	model      string
	structured bool
	body       string
}

var submissions = []submission{
	{model: "ChatGPT", body: `<main><div data-message-author-role="user">How do I reverse a list?</div>` +
		`<div data-message-author-role="assistant"><p>Use slices.Reverse.</p></div></main>`},
	{model: "Claude", body: `<div data-testid="user-message">Summarize this paper</div>` +
		`<div class="font-claude-message"><p>It proposes a new cache policy.</p></div>`},
	{model: "Gemini", body: `<user-query>Translate hello</user-query><model-response>Bonjour</model-response>`},
	{model: "ChatGPT", body: `<p>A transcript without role markers.</p><p>Second paragraph.</p>`},
	{model: "LoadBot", structured: true, body: `{"messages":[{"role":"user","content":"ping"},{"role":"assistant","content":"pong"}]}`},
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "base URL of the archive")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	readRatio := flag.Float64("read-ratio", 0.5, "share of requests that list conversations")
	flag.Parse()

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Concurrency: *concurrency,
		Duration:    *duration,
		ReadRatio:   *readRatio,
	}

	fmt.Println("=== Conversation Archive Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Read ratio:  %.2f\n", cfg.ReadRatio)
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(workerID), uint64(time.Now().UnixNano())))
			next := workerID

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				kind := "ingest"
				var req *http.Request
				if rng.Float64() < cfg.ReadRatio {
					kind = "list"
					listURL := fmt.Sprintf("%s/api/conversation?limit=%d&offset=%d",
						cfg.BaseURL, 10+rng.IntN(41), rng.IntN(20))
					req = mustNewRequest(ctx, http.MethodGet, listURL, nil, "")
				} else {
					sub := submissions[next%len(submissions)]
					next++
					body, contentType := encodeSubmission(sub)
					req = mustNewRequest(ctx, http.MethodPost, cfg.BaseURL+"/api/conversation", body, contentType)
				}

				start := time.Now()
				resp, err := client.Do(req)
				duration := time.Since(start)

				if err != nil {
					if ctx.Err() == nil {
						stats.RecordRequest(kind, duration, 0, err)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				stats.RecordRequest(kind, duration, resp.StatusCode, nil)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

// encodeSubmission builds the multipart body the archive expects.
func encodeSubmission(sub submission) (*bytes.Buffer, string) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("htmlDoc", "conversation.html")
	if err != nil {
		panic(fmt.Sprintf("creating form file: %v", err))
	}
	part.Write([]byte(sub.body))
	w.WriteField("model", sub.model)
	if sub.structured {
		w.WriteField("isMCP", "true")
	}
	w.Close()
	return &body, w.FormDataContentType()
}

func mustNewRequest(ctx context.Context, method, rawURL string, body io.Reader, contentType string) *http.Request {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / duration.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}

	stats.latenciesMu.Lock()
	byKind := make(map[string][]time.Duration, len(stats.latencies))
	for kind, l := range stats.latencies {
		byKind[kind] = append([]time.Duration(nil), l...)
	}
	stats.latenciesMu.Unlock()

	for _, kind := range []string{"ingest", "list"} {
		printLatency(kind, byKind[kind])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		count := stats.statusCodes[code].Load()
		fmt.Printf("  %d: %d\n", code, count)
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func printLatency(kind string, latencies []time.Duration) {
	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg := sum / time.Duration(len(latencies))

	fmt.Println()
	fmt.Printf("=== Latency (%s, %d requests) ===\n", kind, len(latencies))
	fmt.Printf("Min:    %s\n", latencies[0])
	fmt.Printf("Avg:    %s\n", avg)
	fmt.Printf("P50:    %s\n", percentile(latencies, 50))
	fmt.Printf("P90:    %s\n", percentile(latencies, 90))
	fmt.Printf("P95:    %s\n", percentile(latencies, 95))
	fmt.Printf("P99:    %s\n", percentile(latencies, 99))
	fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])

	var sumSquared float64
	avgFloat := float64(avg)
	for _, l := range latencies {
		diff := float64(l) - avgFloat
		sumSquared += diff * diff
	}
	stddev := time.Duration(math.Sqrt(sumSquared / float64(len(latencies))))
	fmt.Printf("StdDev: %s\n", stddev)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
