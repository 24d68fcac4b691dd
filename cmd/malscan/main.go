// ABOUTME: Entry point for the malscan package scanning service.
// ABOUTME: Handles initialization, configuration parsing, and starts the HTTP server.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/malpack/malscan/internal/backend"
	"github.com/malpack/malscan/internal/manifest"
	"github.com/malpack/malscan/internal/metrics"
	"github.com/malpack/malscan/internal/navigate"
	"github.com/malpack/malscan/internal/pipeline"
	"github.com/malpack/malscan/internal/registry"
	"github.com/malpack/malscan/internal/server"
	"github.com/malpack/malscan/internal/store"
	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

type Config struct {
	Port         int
	RegistryMode string
	IndexURL     string
	S3Bucket     string
	S3Prefix     string
	S3Region     string
	LocalDir     string

	BackendURL       string
	OpenAIEndpoint   string
	OpenAIKey        string
	OpenAIDeployment string

	ManifestMethod string
	MockMode       bool
}

func main() {
	config := parseConfig()

	// Set up structured logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	service, err := NewService(ctx, config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create service")
	}

	if err := service.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start service")
	}
}

func parseConfig() *Config {
	config := &Config{}

	flag.IntVar(&config.Port, "port", 8080, "Port to serve the scan API on")
	flag.StringVar(&config.RegistryMode, "registry-mode", "pypi", "Archive source: pypi, s3, or local")
	flag.StringVar(&config.IndexURL, "index-url", "", "PyPI index base URL (empty for pypi.org)")
	flag.StringVar(&config.S3Bucket, "s3-bucket", "", "S3 bucket holding mirrored source archives")
	flag.StringVar(&config.S3Prefix, "s3-prefix", "", "Key prefix within the S3 mirror bucket")
	flag.StringVar(&config.S3Region, "s3-region", "", "AWS region of the S3 mirror bucket")
	flag.StringVar(&config.LocalDir, "local-dir", "", "Base directory with unpacked packages (local mode)")
	flag.StringVar(&config.BackendURL, "backend-url", "", "Base URL of the analysis backend")
	flag.StringVar(&config.OpenAIEndpoint, "openai-endpoint", "", "Azure OpenAI endpoint for in-process narrative analysis")
	flag.StringVar(&config.OpenAIDeployment, "openai-deployment", "gpt-4o", "Azure OpenAI deployment name")
	flag.StringVar(&config.ManifestMethod, "manifest-method", "rule_based", "Detection method for manifest annotation scans")
	flag.BoolVar(&config.MockMode, "mock", false, "Enable mock mode for local testing (no external API calls)")
	flag.Parse()

	// Override with environment variables if set
	if envPort := os.Getenv("PORT"); envPort != "" {
		if n, err := fmt.Sscanf(envPort, "%d", &config.Port); err != nil || n != 1 {
			log.Printf("Invalid PORT environment variable: %s", envPort)
		}
	}
	if envMode := os.Getenv("REGISTRY_MODE"); envMode != "" {
		config.RegistryMode = envMode
	}
	if envIndex := os.Getenv("PYPI_INDEX_URL"); envIndex != "" {
		config.IndexURL = envIndex
	}
	if envBucket := os.Getenv("S3_MIRROR_BUCKET"); envBucket != "" {
		config.S3Bucket = envBucket
	}
	if envPrefix := os.Getenv("S3_MIRROR_PREFIX"); envPrefix != "" {
		config.S3Prefix = envPrefix
	}
	if envRegion := os.Getenv("AWS_REGION"); envRegion != "" {
		config.S3Region = envRegion
	}
	if envDir := os.Getenv("LOCAL_PACKAGE_DIR"); envDir != "" {
		config.LocalDir = envDir
	}
	if envBackend := os.Getenv("BACKEND_URL"); envBackend != "" {
		config.BackendURL = envBackend
	}
	if envEndpoint := os.Getenv("AZURE_OPENAI_ENDPOINT"); envEndpoint != "" {
		config.OpenAIEndpoint = envEndpoint
	}
	if envKey := os.Getenv("AZURE_OPENAI_API_KEY"); envKey != "" {
		config.OpenAIKey = envKey
	}
	if envDeployment := os.Getenv("AZURE_OPENAI_DEPLOYMENT"); envDeployment != "" {
		config.OpenAIDeployment = envDeployment
	}
	if envMock := os.Getenv("MOCK_MODE"); envMock == "true" || envMock == "1" {
		config.MockMode = true
	}

	// Validate configuration
	if !config.MockMode {
		if config.BackendURL == "" && config.OpenAIEndpoint == "" {
			log.Fatal("An analysis backend URL or Azure OpenAI endpoint is required (unless using mock mode)")
		}
	}
	if config.RegistryMode == "s3" && config.S3Bucket == "" {
		log.Fatal("S3 mirror bucket is required for s3 registry mode")
	}
	if config.RegistryMode == "local" && config.LocalDir == "" {
		log.Fatal("Local package directory is required for local registry mode")
	}
	if !types.Method(config.ManifestMethod).IsStructured() {
		log.Fatal("Manifest method must be a structured method: rule_based or pattern_based")
	}

	return config
}

type Service struct {
	config    *Config
	logger    *logrus.Logger
	scanner   *pipeline.Scanner
	navigator *navigate.Navigator
	annotator *manifest.Annotator
	metrics   *metrics.Metrics
}

func NewService(ctx context.Context, config *Config, logger *logrus.Logger) (*Service, error) {
	logger.WithFields(logrus.Fields{
		"port":          config.Port,
		"registry_mode": config.RegistryMode,
		"mock":          config.MockMode,
	}).Info("Initializing malscan")

	registryConfig := &registry.Config{
		Mode:     config.RegistryMode,
		IndexURL: config.IndexURL,
		S3Bucket: config.S3Bucket,
		S3Prefix: config.S3Prefix,
		S3Region: config.S3Region,
		LocalDir: config.LocalDir,
	}
	provider, err := registry.CreateProvider(ctx, registryConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive provider: %w", err)
	}

	backendConfig := &backend.Config{
		BackendURL:       config.BackendURL,
		OpenAIEndpoint:   config.OpenAIEndpoint,
		OpenAIKey:        config.OpenAIKey,
		OpenAIDeployment: config.OpenAIDeployment,
		MockMode:         config.MockMode,
	}

	structured := make(map[types.Method]pipeline.StructuredAnalyzer)
	for _, method := range []types.Method{types.MethodRuleBased, types.MethodPatternBased} {
		analyzer, err := backend.CreateStructuredAnalyzer(backendConfig, method, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s analyzer: %w", method, err)
		}
		structured[method] = analyzer
	}

	narrative, err := backend.CreateNarrativeAnalyzer(backendConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create narrative analyzer: %w", err)
	}

	m := metrics.New(logger)
	findings := store.NewFindingsStore(logger)
	scanner := pipeline.NewScanner(findings, provider, structured, narrative, m, logger)

	return &Service{
		config:    config,
		logger:    logger,
		scanner:   scanner,
		navigator: navigate.NewNavigator(findings, logger),
		annotator: manifest.NewAnnotator(scanner, types.Method(config.ManifestMethod), logger),
		metrics:   m,
	}, nil
}

func (s *Service) Start(ctx context.Context) error {
	scanHandler := server.NewScanHandler(s.scanner, s.logger)
	navigateHandler := server.NewNavigateHandler(s.navigator, s.logger)
	annotateHandler := server.NewAnnotateHandler(s.annotator, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/scan", s.securityMiddleware(scanHandler.ServeHTTP, http.MethodPost))
	mux.HandleFunc("/api/v1/scan/headless", s.securityMiddleware(scanHandler.Headless, http.MethodPost))
	mux.HandleFunc("/api/v1/alternatives", s.securityMiddleware(scanHandler.Alternatives, http.MethodPost))
	mux.HandleFunc("/api/v1/navigate", s.securityMiddleware(navigateHandler.ServeHTTP, http.MethodPost))
	mux.HandleFunc("/api/v1/manifest/annotate", s.securityMiddleware(annotateHandler.ServeHTTP, http.MethodPost))
	mux.HandleFunc("/api/v1/package/", s.securityMiddleware(scanHandler.DeletePackage, http.MethodDelete))
	mux.HandleFunc("/metrics", s.securityMiddleware(s.metrics.Handler().ServeHTTP, http.MethodGet))
	mux.HandleFunc("/health", s.securityMiddleware(s.healthHandler, http.MethodGet))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           mux,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Minute, // scans block the response
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		s.scanner.Close()
	}()

	s.logger.WithFields(logrus.Fields{
		"port":          s.config.Port,
		"registry_mode": s.config.RegistryMode,
	}).Info("Starting HTTP server")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Service) securityMiddleware(next http.HandlerFunc, method string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Security headers
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; script-src 'none'; object-src 'none'; frame-ancestors 'none'")

		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"remote_ip":  r.RemoteAddr,
			"user_agent": r.UserAgent(),
		}).Debug("HTTP request received")

		next(w, r)
	}
}

func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok"}`)
}
