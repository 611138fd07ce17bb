// Command loadtest нагружает HTTP API заказов и печатает сводку по латентности.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	flag "github.com/spf13/pflag"
)

const (
	idempotencyHeader = "Idempotency-Key"
	defaultAmount     = int64(1000)
	defaultQty        = 1
	// codeTransport фиксирует вызовы, не получившие HTTP-ответа.
	codeTransport = "transport_error"
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateUpdate loadMode = "create-update"
	modeCreateDelete loadMode = "create-delete"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	deleteRate  int
	customerID  int64
	productID   int64
	seedStock   int
	amountMinor int64
	updateTo    string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

// record учитывает вызов; code это HTTP-статус строкой или codeTransport.
func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, found := c.methods[method]
	if !found {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (s *methodStats) report() methodReport {
	return methodReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     maps.Clone(s.codes),
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}
	return stats.report(), true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods["scenario"]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		result.Methods[name] = stats.report()
	}
	return result
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "base URL of the order service HTTP API")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 20, "max idle HTTP connections to keep per host")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-update | create-delete")
	fs.IntVar(&cfg.deleteRate, "delete-rate", 0, "delete probability in percent for create-update mode (0..100)")
	fs.Int64Var(&cfg.customerID, "customer-id", 0, "existing customer id; a customer is seeded when 0")
	fs.Int64Var(&cfg.productID, "product-id", 0, "existing product id; a product is seeded when 0")
	fs.IntVar(&cfg.seedStock, "seed-stock", 100000, "stock quantity of the seeded product")
	fs.Int64Var(&cfg.amountMinor, "amount-minor", defaultAmount, "order item unit price in minor units")
	fs.StringVar(&cfg.updateTo, "update-status", "Confirmed", "status set by create-update scenarios")
	fs.StringVarP(&cfg.outputPath, "output", "o", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.totalSet = fs.Changed("total")
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("url is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.amountMinor <= 0:
		return cfg, errors.New("amount-minor must be > 0")
	case cfg.deleteRate < 0 || cfg.deleteRate > 100:
		return cfg, errors.New("delete-rate must be between 0 and 100")
	case cfg.customerID < 0 || cfg.productID < 0:
		return cfg, errors.New("customer-id and product-id must be >= 0")
	case cfg.productID == 0 && cfg.seedStock <= 0:
		return cfg, errors.New("seed-stock must be > 0 when product is seeded")
	case strings.TrimSpace(cfg.updateTo) == "":
		return cfg, errors.New("update-status is required")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCreate, modeCreateUpdate, modeCreateDelete:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result, err := run(context.Background(), cfg, os.Stdout)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// run подготавливает покупателя и товар при необходимости, прогоняет сценарии и печатает отчет.
func run(ctx context.Context, cfg config, out io.Writer) (report, error) {
	api := newOrderAPI(cfg)
	defer api.client.CloseIdleConnections()

	if err := seed(ctx, api, &cfg); err != nil {
		return report{}, err
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures atomic.Int64
	var wg sync.WaitGroup

	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(ctx, api, cfg, id, runID, col); runErr != nil {
					failures.Add(1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures.Load() > 0 {
		result.FailedScenarios = failures.Load()
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(out, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			return result, fmt.Errorf("write report: %w", err)
		}
	}
	return result, nil
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := range cfg.total {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// orderAPI минимальный HTTP-клиент сервиса заказов.
type orderAPI struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func newOrderAPI(cfg config) *orderAPI {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.connections
	transport.MaxIdleConns = cfg.connections
	return &orderAPI{
		baseURL: cfg.baseURL,
		timeout: cfg.timeout,
		client:  &http.Client{Transport: transport},
	}
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

// do выполняет запрос и декодирует ответ в out, если он не nil.
// Возвращает код для сборщика статистики.
func (a *orderAPI) do(ctx context.Context, method, path, idemKey string, body, out any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return codeTransport, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return codeTransport, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set(idempotencyHeader, idemKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return codeTransport, err
	}
	defer resp.Body.Close()

	code := strconv.Itoa(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return code, &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return code, fmt.Errorf("decode response: %w", err)
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return code, nil
}

type idResponse struct {
	ID int64 `json:"id"`
}

type orderItem struct {
	ProductID      int64 `json:"product_id"`
	Quantity       int   `json:"quantity"`
	UnitPriceMinor int64 `json:"unit_price_minor"`
}

type createOrderBody struct {
	CustomerID int64       `json:"customer_id"`
	Items      []orderItem `json:"items"`
}

type updateOrderBody struct {
	Status string `json:"status"`
}

// seed создает покупателя и товар, если их id не заданы флагами.
func seed(ctx context.Context, api *orderAPI, cfg *config) error {
	if cfg.customerID == 0 {
		var created idResponse
		body := map[string]any{
			"name":  "Load Test",
			"email": fmt.Sprintf("loadtest-%d@example.com", time.Now().UnixNano()),
		}
		if _, err := api.do(ctx, http.MethodPost, "/customers", "", body, &created); err != nil {
			return fmt.Errorf("seed customer: %w", err)
		}
		cfg.customerID = created.ID
	}
	if cfg.productID == 0 {
		var created idResponse
		body := map[string]any{
			"name":           "load-test-product",
			"price_minor":    cfg.amountMinor,
			"stock_quantity": cfg.seedStock,
		}
		if _, err := api.do(ctx, http.MethodPost, "/products", "", body, &created); err != nil {
			return fmt.Errorf("seed product: %w", err)
		}
		cfg.productID = created.ID
	}
	return nil
}

func runScenario(
	ctx context.Context,
	api *orderAPI,
	cfg config,
	index int,
	runID string,
	col *collector,
) (err error) {
	scenarioStart := time.Now()
	scenarioCode := "ok"
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioCode, err == nil)
	}()

	createKey := fmt.Sprintf("lt-create-%s-%d", runID, index)
	orderID, code, err := callCreateOrder(ctx, api, cfg, createKey, col)
	if err != nil {
		scenarioCode = code
		return err
	}
	if orderID == 0 {
		scenarioCode = "empty_id"
		return errors.New("create response returned empty order id")
	}

	switch {
	case cfg.mode == modeCreateDelete:
		code, err = callDeleteOrder(ctx, api, orderID, col)
	case cfg.mode == modeCreateUpdate && shouldDeleteScenario(index, cfg.deleteRate):
		code, err = callDeleteOrder(ctx, api, orderID, col)
	case cfg.mode == modeCreateUpdate:
		code, err = callUpdateOrder(ctx, api, orderID, cfg.updateTo, col)
	}
	if err != nil {
		scenarioCode = code
	}
	return err
}

func callCreateOrder(ctx context.Context, api *orderAPI, cfg config, key string, col *collector) (int64, string, error) {
	body := createOrderBody{
		CustomerID: cfg.customerID,
		Items: []orderItem{{
			ProductID:      cfg.productID,
			Quantity:       defaultQty,
			UnitPriceMinor: cfg.amountMinor,
		}},
	}
	var created idResponse
	start := time.Now()
	code, err := api.do(ctx, http.MethodPost, "/orders", key, body, &created)
	col.record("CreateOrder", time.Since(start), code, err == nil)
	return created.ID, code, err
}

func callUpdateOrder(ctx context.Context, api *orderAPI, orderID int64, status string, col *collector) (string, error) {
	start := time.Now()
	code, err := api.do(ctx, http.MethodPut, "/orders/"+strconv.FormatInt(orderID, 10), "", updateOrderBody{Status: status}, nil)
	col.record("UpdateOrder", time.Since(start), code, err == nil)
	return code, err
}

func callDeleteOrder(ctx context.Context, api *orderAPI, orderID int64, col *collector) (string, error) {
	start := time.Now()
	code, err := api.do(ctx, http.MethodDelete, "/orders/"+strconv.FormatInt(orderID, 10), "", nil, nil)
	col.record("DeleteOrder", time.Since(start), code, err == nil)
	return code, err
}

func shouldDeleteScenario(index, deleteRate int) bool {
	if deleteRate <= 0 {
		return false
	}
	if deleteRate >= 100 {
		return true
	}
	return index%100 < deleteRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(out io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(out, "Load test summary")
	_, _ = fmt.Fprintf(out, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	slices.Sort(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(out,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
