package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

// appConfig holds the fully resolved configuration after flags and env
// overrides are applied.
type appConfig struct {
	ingressIface string
	egressIface  string // empty disables republishing

	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration

	monitorAddr      string // empty disables the diagnostics tap
	monitorHandshake time.Duration

	egressBuffer int

	contInvalidCeiling uint32
	questionableFloor  uint32
	errorThreshold     float64

	invariantCheckEvery time.Duration

	mdnsEnable bool
	mdnsName   string
}

func parseFlags(args []string) (*appConfig, bool) {
	fs := flag.NewFlagSet("sv-arbitrator", flag.ContinueOnError)
	cfg := &appConfig{}

	egressIface := fs.String("egress-iface", "", "Egress interface for republishing the elected stream (empty disables republishing)")
	logFormat := fs.String("log-format", "text", "Log format: text|json")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := fs.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	monitorAddr := fs.String("monitor-addr", "", "Diagnostics-tap TCP listen address (e.g., :9101); empty disables")
	monitorHandshake := fs.Duration("monitor-handshake-timeout", 3*time.Second, "Diagnostics-tap client handshake timeout")
	egressBuffer := fs.Int("egress-buffer", 1024, "Egress async TX buffer (frames)")
	contInvalidCeiling := fs.Uint32("cont-invalid-ceiling", 10, "Consecutive invalid samples before probing the backup MU")
	questionableFloor := fs.Uint32("questionable-floor", 3, "quality_sum floor classified as questionable rather than invalid")
	errorThreshold := fs.Float64("error-threshold", 0.25, "Relative dispersion at or above which the backup MU is elected")
	invariantCheckEvery := fs.Duration("invariant-check-interval", 5*time.Second, "Interval between arbiter invariant self-checks")
	mdnsEnable := fs.Bool("mdns-enable", false, "Enable mDNS advertisement of the metrics/health endpoint")
	mdnsName := fs.String("mdns-name", "", "mDNS instance name (default sv-arbitrator-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		fmt.Printf("flag parse error: %v\n", err)
		return nil, false
	}

	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	switch fs.NArg() {
	case 0:
		fmt.Println("usage: sv-arbitrator INGRESS_IFACE [flags]")
		return nil, *showVersion
	default:
		cfg.ingressIface = fs.Arg(0)
	}

	cfg.egressIface = *egressIface
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.monitorAddr = *monitorAddr
	cfg.monitorHandshake = *monitorHandshake
	cfg.egressBuffer = *egressBuffer
	cfg.contInvalidCeiling = *contInvalidCeiling
	cfg.questionableFloor = *questionableFloor
	cfg.errorThreshold = *errorThreshold
	cfg.invariantCheckEvery = *invariantCheckEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation; it does not open interfaces.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.ingressIface == "" {
		return errors.New("ingress interface is required")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.egressBuffer <= 0 {
		return fmt.Errorf("egress-buffer must be > 0 (got %d)", c.egressBuffer)
	}
	if c.monitorHandshake <= 0 {
		return errors.New("monitor-handshake-timeout must be > 0")
	}
	if c.questionableFloor == 0 {
		return errors.New("questionable-floor must be > 0")
	}
	if c.errorThreshold <= 0 || c.errorThreshold >= 1 {
		return fmt.Errorf("error-threshold must be in (0,1) (got %v)", c.errorThreshold)
	}
	return nil
}

// applyEnvOverrides maps SV_ARBITRATOR_* environment variables onto cfg
// unless the corresponding flag was explicitly set (flags always win).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["egress-iface"]; !ok {
		if v, ok := get("SV_ARBITRATOR_EGRESS_IFACE"); ok {
			c.egressIface = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("SV_ARBITRATOR_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("SV_ARBITRATOR_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("SV_ARBITRATOR_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["monitor-addr"]; !ok {
		if v, ok := get("SV_ARBITRATOR_MONITOR"); ok {
			c.monitorAddr = v
		}
	}
	if _, ok := set["egress-buffer"]; !ok {
		if v, ok := get("SV_ARBITRATOR_EGRESS_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.egressBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SV_ARBITRATOR_EGRESS_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["cont-invalid-ceiling"]; !ok {
		if v, ok := get("SV_ARBITRATOR_CONT_INVALID_CEILING"); ok && v != "" {
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				c.contInvalidCeiling = uint32(n)
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid SV_ARBITRATOR_CONT_INVALID_CEILING: %w", err)
			}
		}
	}
	if _, ok := set["questionable-floor"]; !ok {
		if v, ok := get("SV_ARBITRATOR_QUESTIONABLE_FLOOR"); ok && v != "" {
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				c.questionableFloor = uint32(n)
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid SV_ARBITRATOR_QUESTIONABLE_FLOOR: %w", err)
			}
		}
	}
	if _, ok := set["error-threshold"]; !ok {
		if v, ok := get("SV_ARBITRATOR_ERROR_THRESHOLD"); ok && v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.errorThreshold = f
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid SV_ARBITRATOR_ERROR_THRESHOLD: %w", err)
			}
		}
	}
	if _, ok := set["invariant-check-interval"]; !ok {
		if v, ok := get("SV_ARBITRATOR_INVARIANT_CHECK_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.invariantCheckEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SV_ARBITRATOR_INVARIANT_CHECK_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("SV_ARBITRATOR_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("SV_ARBITRATOR_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("SV_ARBITRATOR_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SV_ARBITRATOR_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
