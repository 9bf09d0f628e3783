package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/glancesec/glance/pkg/config"
	"github.com/glancesec/glance/pkg/export"
	"github.com/glancesec/glance/pkg/flow"
	"github.com/glancesec/glance/pkg/gateway"
)

const Version = "0.1.0"

func main() {
	// A .env next to the binary is convenient for lab setups; absence is fine.
	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		port := "3000"
		if len(os.Args) > 2 {
			port = os.Args[2]
		}
		runServer(logger, port)
	case "scan":
		if len(os.Args) < 4 {
			fmt.Println("Usage: glance scan <host[:port]> <path> [body]")
			os.Exit(1)
		}
		body := ""
		if len(os.Args) > 4 {
			body = strings.Join(os.Args[4:], " ")
		}
		runCLIScan(logger, os.Args[2], os.Args[3], body)
	case "version":
		fmt.Printf("Glance v%s\n", Version)
		fmt.Println("HTTPS interception core for game-client exfiltration detection")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Glance v%s - game traffic exfiltration detector\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  glance serve [port]                  Start the inspection API (default: 3000)")
	fmt.Println("  glance scan <host[:port]> <path> [body]  Score one request and print the assessment")
	fmt.Println("  glance version                       Show version")
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Println("  glance serve 8080")
	fmt.Println("  glance scan evil.example.com /upload '{\"webhook\": \"...\"}'")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  GLANCE_STRICT_MODE      Score every non-ignored host (default: false)")
	fmt.Println("  GLANCE_RULES_FILE       YAML rules overlay (patterns, thresholds, host lists)")
	fmt.Println("  GLANCE_EXPORT_DIR       JSONL record streams directory (default: ./exports)")
	fmt.Println("  GLANCE_REDIS_ADDR       Mirror records into Redis streams")
	fmt.Println("  GLANCE_KAFKA_BROKERS    Mirror records into Kafka")
	fmt.Println("  GLANCE_POSTGRES_DSN     Mirror records into Postgres")
}

// buildConfig loads defaults, overlays the optional rules file, and refuses
// to continue on an invalid configuration.
func buildConfig(logger zerolog.Logger) *config.Config {
	cfg := config.NewDefaultConfig()
	if path := config.GetEnv("GLANCE_RULES_FILE", ""); path != "" {
		if err := cfg.LoadRules(path); err != nil {
			logger.Fatal().Err(err).Str("path", path).Msg("rules file rejected")
		}
		logger.Info().Str("path", path).Msg("rules file loaded")
	}
	cfg.MustValidate()
	return cfg
}

// buildSink assembles the record sink stack. JSONL is always on; Redis,
// Kafka, and Postgres mirrors attach when configured. A mirror that cannot
// connect is fatal at startup rather than a silent audit gap later.
func buildSink(logger zerolog.Logger, cfg *config.Config) *export.Multi {
	sinks := []export.Sink{}

	jsonl, err := export.NewJSONLSink(cfg.ExportDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.ExportDir).Msg("export directory unusable")
	}
	sinks = append(sinks, jsonl)

	if cfg.RedisAddr != "" {
		rs, err := export.NewRedisSink(cfg.RedisAddr, "")
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis sink failed")
		}
		sinks = append(sinks, rs)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("redis mirror enabled")
	}
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, export.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic))
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Msg("kafka mirror enabled")
	}
	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ps, err := export.NewPostgresSink(ctx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres sink failed")
		}
		sinks = append(sinks, ps)
		logger.Info().Msg("postgres mirror enabled")
	}

	return export.NewMulti(logger, sinks...)
}

// inspectRequest is the wire shape of POST /inspect.
type inspectRequest struct {
	ConnectionID string            `json:"connection_id"`
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	Headers      map[string]string `json:"headers"`
	Body         string            `json:"body"`
}

func (r *inspectRequest) toFlow() *flow.Request {
	port := r.Port
	if port == 0 {
		port = 443
	}
	method := r.Method
	if method == "" {
		method = "GET"
	}
	return &flow.Request{
		ID:           flow.NewRequestID(),
		Timestamp:    time.Now(),
		ConnectionID: r.ConnectionID,
		Host:         r.Host,
		Port:         port,
		Method:       method,
		Path:         r.Path,
		Headers:      r.Headers,
		Body:         []byte(r.Body),
		BodySize:     int64(len(r.Body)),
	}
}

func runServer(logger zerolog.Logger, port string) {
	cfg := buildConfig(logger)
	sink := buildSink(logger, cfg)
	defer sink.Close()

	gw, err := gateway.New(cfg, sink, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline construction failed")
	}

	app := fiber.New(fiber.Config{
		AppName: "Glance",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	// The transport layer posts each decrypted request here and applies the
	// returned directive before forwarding a single byte upstream.
	app.Post("/inspect", func(c fiber.Ctx) error {
		var req inspectRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.Host == "" {
			return c.Status(400).JSON(fiber.Map{"error": "host field is required"})
		}

		out, a, err := gw.Inspect(c.Context(), req.toFlow())
		if err != nil {
			return c.Status(499).JSON(fiber.Map{"error": err.Error()})
		}

		resp := fiber.Map{"directive": string(out.Directive)}
		if a != nil {
			resp["decision"] = string(a.Decision)
			resp["score"] = a.Score
			resp["reason"] = a.Reason
			resp["indicators"] = a.Indicators
			resp["signals"] = a.Signals
			resp["request_id"] = a.Request.ID
		}
		if out.Response != nil {
			resp["synthetic_response"] = fiber.Map{
				"status_code":  out.Response.StatusCode,
				"content_type": out.Response.ContentType,
				"body":         string(out.Response.Body),
			}
		}
		if out.SinkErr != nil {
			resp["persistence_error"] = out.SinkErr.Error()
		}
		return c.JSON(resp)
	})

	app.Get("/hosts", func(c fiber.Ctx) error {
		return c.JSON(gw.Hosts())
	})

	app.Get("/stats", func(c fiber.Ctx) error {
		return c.JSON(gw.Stats())
	})

	logger.Info().
		Str("port", port).
		Bool("strict_mode", cfg.StrictMode).
		Str("export_dir", cfg.ExportDir).
		Msg("glance listening")
	if err := app.Listen(":" + port); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func runCLIScan(logger zerolog.Logger, hostArg, path, body string) {
	cfg := buildConfig(logger)

	host := hostArg
	port := 443
	if i := strings.LastIndex(hostArg, ":"); i > 0 {
		if p, err := strconv.Atoi(hostArg[i+1:]); err == nil {
			host, port = hostArg[:i], p
		}
	}

	gw, err := gateway.New(cfg, nil, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline construction failed")
	}

	method := "GET"
	if body != "" {
		method = "POST"
	}
	out, a, err := gw.Inspect(context.Background(), &flow.Request{
		ID:        flow.NewRequestID(),
		Timestamp: time.Now(),
		Host:      host,
		Port:      port,
		Method:    method,
		Path:      path,
		Body:      []byte(body),
		BodySize:  int64(len(body)),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("scan failed")
	}

	result := map[string]any{"directive": string(out.Directive)}
	if a != nil {
		result["decision"] = string(a.Decision)
		result["score"] = a.Score
		result["reason"] = a.Reason
		result["indicators"] = a.Indicators
		result["signals"] = a.Signals
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)

	if a != nil && a.Decision == flow.DecisionBlock {
		os.Exit(2)
	}
}
