// Command load drives the intake and pipeline endpoints against an in-process
// server and reports latency percentiles per scenario.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/velocity-los/velocity-back/internal/domain"
	httpserver "github.com/velocity-los/velocity-back/internal/http"
	"github.com/velocity-los/velocity-back/internal/http/handlers"
	"github.com/velocity-los/velocity-back/internal/lease"
	"github.com/velocity-los/velocity-back/internal/repository"
	"github.com/velocity-los/velocity-back/internal/rules"
	"github.com/velocity-los/velocity-back/internal/service"
	"github.com/velocity-los/velocity-back/internal/storage"
	"github.com/velocity-los/velocity-back/internal/worker"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server *httptest.Server
}

// passthroughExtractor keeps the benchmark independent of real PDF parsing;
// the scenarios measure pipeline and claiming overhead, not extraction cost.
type passthroughExtractor struct{}

func (passthroughExtractor) Name() string { return "passthrough" }

func (passthroughExtractor) ExtractText(data []byte) (string, error) {
	return string(data), nil
}

func main() {
	createTotal := flag.Int("create-total", 240, "total application create requests")
	createConcurrency := flag.Int("create-concurrency", 24, "concurrency for create requests")
	parseTotal := flag.Int("parse-total", 240, "total parse trigger requests")
	parseConcurrency := flag.Int("parse-concurrency", 16, "concurrency for parse triggers")
	analyzeTotal := flag.Int("analyze-total", 240, "total analyze trigger requests")
	analyzeConcurrency := flag.Int("analyze-concurrency", 16, "concurrency for analyze triggers")
	listTotal := flag.Int("list-total", 120, "total application list requests")
	listConcurrency := flag.Int("list-concurrency", 20, "concurrency for list requests")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env := startBenchmarkEnvironment()
	defer env.server.Close()

	client := &http.Client{Timeout: 10 * time.Second}

	document := strings.Repeat(
		"Borrower: Jane Doe. Stated income: $120,000. Property type: condo. ", 4,
	)
	createBody, err := json.Marshal(map[string]any{
		"company_profile_id": "profile-bench",
		"file_name":          "packet.pdf",
		"content_type":       "application/pdf",
		"document_base64":    base64.StdEncoding.EncodeToString([]byte(document)),
	})
	if err != nil {
		log.Fatalf("failed to marshal create payload: %v", err)
	}

	createScenario := runScenario("applications_create", *createTotal, *createConcurrency, func(_ int) error {
		return postJSON(client, env.server.URL+"/v1/applications", createBody, http.StatusCreated)
	})

	parseScenario := runScenario("pipeline_parse_trigger", *parseTotal, *parseConcurrency, func(_ int) error {
		return postJSON(client, env.server.URL+"/internal/pipeline/parse", nil, http.StatusOK)
	})

	analyzeScenario := runScenario("pipeline_analyze_trigger", *analyzeTotal, *analyzeConcurrency, func(_ int) error {
		return postJSON(client, env.server.URL+"/internal/pipeline/analyze", nil, http.StatusOK)
	})

	listScenario := runScenario("applications_list", *listTotal, *listConcurrency, func(index int) error {
		query := fmt.Sprintf(
			"%s/v1/applications?stage=ai_completed&page=%d&page_size=20",
			env.server.URL,
			(index%6)+1,
		)
		return getJSON(client, query, http.StatusOK)
	})

	results := []scenarioResult{
		createScenario,
		parseScenario,
		analyzeScenario,
		listScenario,
	}

	slo := map[string]bool{
		"create_p95_le_500ms":  createScenario.P95MS <= 500,
		"trigger_p95_le_500ms": parseScenario.P95MS <= 500 && analyzeScenario.P95MS <= 500,
		"list_p95_le_200ms":    listScenario.P95MS <= 200,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		Results:        results,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment() *benchmarkEnv {
	logger := log.New(io.Discard, "", 0)

	jobs := repository.NewMemoryJobsRepository()
	rulesRepo := repository.NewMemoryRulesRepository()
	documents := storage.NewMemoryDocumentStore()
	leases := lease.NewManager(jobs, time.Minute, logger)

	rulesRepo.PutCompanyProfile(domain.CompanyProfile{
		ID:         "profile-bench",
		Name:       "Benchmark Lending",
		RulePackID: "pack-bench",
	})
	rulesRepo.PutRulePack(domain.RulePack{
		ID:      "pack-bench",
		Version: "1",
		Rules: []domain.Rule{
			{ID: "r-income", Title: "Income stated", Type: domain.RuleTypeFinding, Pattern: `stated income`},
			{ID: "r-condo", Title: "Condo review", Type: domain.RuleTypeCondition, Pattern: `condo`},
		},
	})

	parser := worker.NewParsingWorker(worker.ParsingWorkerDependencies{
		Leases:     leases,
		Jobs:       jobs,
		Documents:  documents,
		Extractor:  passthroughExtractor{},
		RetryCount: 1,
		Logger:     logger,
	})
	analyzer := worker.NewAnalysisWorker(worker.AnalysisWorkerDependencies{
		Leases: leases,
		Jobs:   jobs,
		Rules:  rulesRepo,
		Engine: rules.NewEngine(0),
		Logger: logger,
	})

	api := handlers.NewAPI(service.NewApplicationsService(jobs, documents), parser, analyzer)
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      "",
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	return &benchmarkEnv{server: httptest.NewServer(router)}
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func postJSON(client *http.Client, url string, body []byte, expectedStatus int) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequest(http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(raw))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func getJSON(client *http.Client, url string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(raw))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
