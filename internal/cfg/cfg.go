// Package cfg holds HyperStream's application-level configuration.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	MaxBatchSize          int
	QueueCapacity         int
	QueueHighWater        int
	ClaimTTLSeconds       int
	SweepIntervalSeconds  int
	SlackWebhookURL       string
	SlackSeverityMin      float64
	KafkaBrokers          string
	KafkaTopic            string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.MaxBatchSize, "max-batch-size", 10000, "maximum alerts per ingest batch; larger batches fail wholesale")
	fs.IntVar(&c.QueueCapacity, "queue-capacity", 50000, "pending-write queue capacity")
	fs.IntVar(&c.QueueHighWater, "queue-high-water", 40000, "pending-write depth at which ingest fails fast with overloaded")
	fs.IntVar(&c.ClaimTTLSeconds, "claim-ttl-seconds", 300, "seconds a review claim stays valid (1..86400)")
	fs.IntVar(&c.SweepIntervalSeconds, "sweep-interval-seconds", 0, "seconds between expired-claim sweeps (0 = lazy expiry only)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for high-severity alert notifications")
	fs.Float64Var(&c.SlackSeverityMin, "slack-severity-min", 4.0, "minimum severity for Slack notifications (0..5)")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma-separated Kafka brokers for the audit log (empty = disabled)")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", "hyperstream.alerts", "Kafka topic for the audit log")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_BATCH_SIZE %d (must be positive)", c.MaxBatchSize))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("invalid QUEUE_CAPACITY %d (must be positive)", c.QueueCapacity))
	}
	if c.QueueHighWater <= 0 || c.QueueHighWater > c.QueueCapacity {
		errs = append(errs, fmt.Errorf("invalid QUEUE_HIGH_WATER %d (must be 1..QUEUE_CAPACITY)", c.QueueHighWater))
	}

	if c.ClaimTTLSeconds <= 0 || c.ClaimTTLSeconds > 86400 {
		errs = append(errs, fmt.Errorf("invalid CLAIM_TTL_SECONDS %d (must be 1..86400)", c.ClaimTTLSeconds))
	}
	if c.SweepIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid SWEEP_INTERVAL_SECONDS %d (must be >= 0)", c.SweepIntervalSeconds))
	}

	if c.SlackSeverityMin < 0 || c.SlackSeverityMin > 5 {
		errs = append(errs, fmt.Errorf("invalid SLACK_SEVERITY_MIN %g (must be 0..5)", c.SlackSeverityMin))
	}

	// Audit log needs a topic when brokers are configured
	if c.KafkaBrokers != "" && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Brokers returns the Kafka broker list, or nil when the audit log is disabled.
func (c *Config) Brokers() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
