// Benchmark tool for testing Watchpost against labelled event recordings.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/events.csv -url http://localhost:8080
//
// This tool:
//  1. Reads labelled events (each row carries an is_threat label)
//  2. Sends each event to Watchpost in timestamp order per home and track
//  3. Compares Watchpost's action (alert / not alert) with the label
//  4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabelledEvent is one row of the benchmark CSV.
type LabelledEvent struct {
	Event    Event
	IsThreat bool
}

// Event is the Watchpost POST /events body.
type Event struct {
	HomeID             string   `json:"-"`
	Timestamp          float64  `json:"ts"`
	Camera             string   `json:"camera"`
	Track              string   `json:"track"`
	RangDoorbell       bool     `json:"rangDoorbell"`
	Knocked            bool     `json:"knocked"`
	DwellSeconds       float64  `json:"dwellSeconds"`
	AwayProb           float64  `json:"awayProb"`
	ExpectedWindow     bool     `json:"expectedWindow"`
	Token              *string  `json:"token,omitempty"`
	KnownIdentity      string   `json:"knownIdentity,omitempty"`
	IdentityConfidence float64  `json:"identityConfidence,omitempty"`
	Interior           bool     `json:"interior,omitempty"`
	Evidence           Evidence `json:"evidence"`
}

// Evidence mirrors the six LLR channels.
type Evidence struct {
	Time     float64 `json:"time"`
	Entry    float64 `json:"entry"`
	Behavior float64 `json:"behavior"`
	Identity float64 `json:"identity"`
	Presence float64 `json:"presence"`
	Token    float64 `json:"token"`
}

// AssessResponse is the subset of the Watchpost response the benchmark reads.
type AssessResponse struct {
	AssessmentID string  `json:"assessmentId"`
	Probability  float64 `json:"probability"`
	Action       string  `json:"action"`
	Severity     string  `json:"severity"`
	Notify       bool    `json:"notify"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Threat alerted
	FalsePositives int64 // Benign alerted
	TrueNegatives  int64 // Benign not alerted
	FalseNegatives int64 // Threat not alerted (missed!)

	TotalProcessed int64
	TotalThreat    int64
	TotalBenign    int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to labelled events CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Watchpost base URL")
	homeID := flag.String("home", "benchmark-home", "Home ID for rows without one")
	limit := flag.Int("limit", 10000, "Maximum events to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each event result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/events.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        WATCHPOST BENCHMARK - Labelled Premises Events          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:       %s\n", *csvPath)
	fmt.Printf("Watchpost URL:  %s\n", *baseURL)
	fmt.Printf("Default Home:   %s\n", *homeID)
	fmt.Printf("Workers:        %d\n", *workers)
	fmt.Printf("Limit:          %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Watchpost not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Watchpost is running:")
		fmt.Println("  go run ./cmd/watchpost serve")
		os.Exit(1)
	}
	fmt.Println("✓ Watchpost is healthy")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to open CSV: %v\n", err)
		os.Exit(1)
	}
	events, err := readEventsCSV(file, *homeID, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(events) == 0 {
		fmt.Println("ERROR: no events in CSV")
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d events\n", len(events))

	threats := 0
	for _, e := range events {
		if e.IsThreat {
			threats++
		}
	}
	fmt.Printf("  - Threat: %d (%.2f%%)\n", threats, 100*float64(threats)/float64(len(events)))
	fmt.Printf("  - Benign: %d (%.2f%%)\n", len(events)-threats, 100*float64(len(events)-threats)/float64(len(events)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(events, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readEventsCSV parses labelled events. Required columns are ts, track and
// is_threat; every other event column is optional. Rows are returned sorted
// by timestamp.
func readEventsCSV(r io.Reader, defaultHome string, limit int) ([]LabelledEvent, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"ts", "track", "is_threat"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var events []LabelledEvent
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		get := func(col string) string {
			if i, ok := colIndex[col]; ok && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}
		num := func(col string) float64 {
			v, _ := strconv.ParseFloat(get(col), 64)
			return v
		}
		boolCol := func(col string) bool {
			v := strings.ToLower(get(col))
			return v == "1" || v == "true" || v == "yes"
		}

		ts, err := strconv.ParseFloat(get("ts"), 64)
		if err != nil || get("track") == "" {
			continue
		}

		ev := Event{
			HomeID:             get("home"),
			Timestamp:          ts,
			Camera:             get("camera"),
			Track:              get("track"),
			RangDoorbell:       boolCol("rang_doorbell"),
			Knocked:            boolCol("knocked"),
			DwellSeconds:       num("dwell_seconds"),
			AwayProb:           num("away_prob"),
			ExpectedWindow:     boolCol("expected_window"),
			KnownIdentity:      get("known_identity"),
			IdentityConfidence: num("identity_confidence"),
			Interior:           boolCol("interior"),
			Evidence: Evidence{
				Time:     num("time"),
				Entry:    num("entry"),
				Behavior: num("behavior"),
				Identity: num("identity"),
				Presence: num("presence"),
				Token:    num("token_llr"),
			},
		}
		if ev.HomeID == "" {
			ev.HomeID = defaultHome
		}
		if token := get("token"); token != "" {
			ev.Token = &token
		}

		events = append(events, LabelledEvent{Event: ev, IsThreat: boolCol("is_threat")})

		if limit > 0 && len(events) >= limit {
			break
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Event.Timestamp < events[j].Event.Timestamp
	})
	return events, nil
}

// partition routes every event of a home and track to the same worker so the
// server sees each track in timestamp order.
func partition(e Event, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(e.HomeID))
	h.Write([]byte{0})
	h.Write([]byte(e.Track))
	return int(h.Sum32() % uint32(workers))
}

func runBenchmark(events []LabelledEvent, baseURL string, numWorkers int, verbose bool) *Metrics {
	if numWorkers < 1 {
		numWorkers = 1
	}
	metrics := &Metrics{}

	queues := make([]chan LabelledEvent, numWorkers)
	var wg sync.WaitGroup

	for i := range queues {
		queues[i] = make(chan LabelledEvent, 100)
		wg.Add(1)
		go func(work <-chan LabelledEvent) {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for le := range work {
				start := time.Now()
				result, err := assessEvent(client, baseURL, le.Event)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s/%s@%.1f -> %v\n", le.Event.HomeID, le.Event.Track, le.Event.Timestamp, err)
					}
					continue
				}

				metrics.record(result.Action == "alert", le.IsThreat)

				if verbose {
					status := "✓"
					if (result.Action == "alert") != le.IsThreat {
						status = "✗"
					}
					fmt.Printf("%s %-12s | t=%8.1f | cam: %-10s | threat: %-5v | watchpost: %-6s %-8s (%.3f)\n",
						status,
						le.Event.Track,
						le.Event.Timestamp,
						le.Event.Camera,
						le.IsThreat,
						result.Action,
						result.Severity,
						result.Probability,
					)
				}
			}
		}(queues[i])
	}

	for _, le := range events {
		queues[partition(le.Event, numWorkers)] <- le
	}
	for _, q := range queues {
		close(q)
	}

	wg.Wait()

	return metrics
}

func (m *Metrics) record(predicted, actual bool) {
	if actual {
		atomic.AddInt64(&m.TotalThreat, 1)
	} else {
		atomic.AddInt64(&m.TotalBenign, 1)
	}

	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

func assessEvent(client *http.Client, baseURL string, ev Event) (*AssessResponse, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/events?explain=none", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Home-ID", ev.HomeID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AssessResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// Scores are the derived detection metrics.
type Scores struct {
	Precision float64
	Recall    float64
	F1        float64
	Accuracy  float64
}

func (m *Metrics) Scores() Scores {
	var s Scores
	if m.TruePositives+m.FalsePositives > 0 {
		s.Precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		s.Recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * (s.Precision * s.Recall) / (s.Precision + s.Recall)
	}
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		s.Accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}
	return s
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Threat:     %d\n", m.TotalThreat)
	fmt.Printf("   Total Benign:     %d\n", m.TotalBenign)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   ALERT     NO ALERT")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  T  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           B  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	s := m.Scores()

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual threats)\n", s.Precision)
	fmt.Printf("   Recall:     %.4f  (of threats, how many did we alert on)\n", s.Recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", s.F1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", s.Accuracy)

	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalThreat > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalThreat) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalThreat) * 100
		fmt.Printf("   Threats Alerted:   %d / %d (%.2f%%)\n", m.TruePositives, m.TotalThreat, detectionRate)
		fmt.Printf("   Threats Missed:    %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalThreat, missRate)
	}
	if m.TotalBenign > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalBenign) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalBenign, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		eps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f events/sec\n", eps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if s.Recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - alerting on most threats")
	} else if s.Recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some threats")
	} else if s.Recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant threats being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most threats are being missed!")
	}

	if s.Precision >= 0.5 {
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	} else if s.Precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
