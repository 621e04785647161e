package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// Recognised keys in the legacy line-oriented format.
const (
	legacyKeyAddress            = "address"
	legacyKeyTelemetryInterval  = "telemetry_interval"
	legacyKeyPublishingInterval = "publishing_interval"
)

// LoadLegacy reads the line-oriented text format used by older deployments
// and returns a validated Config built on top of the defaults.
//
// Format:
//
//	# comment
//	opc.tcp://localhost:4840/          (or address=opc.tcp://...)
//	2000                               (or telemetry_interval=2000)
//	500                                (or publishing_interval=500)
//	Device 1:HostName=...;DeviceId=...;SharedAccessKey=...
//
// The three header lines are optional. Every other non-comment line is a
// "<deviceId>:<credential>" pair split on the first colon.
func LoadLegacy(path string) (*Config, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("opening legacy config: %w", err)
	}
	defer f.Close()

	cfg := defaultConfig()
	if err := parseLegacy(f, cfg); err != nil {
		return nil, err
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("validating config: %s contains no device entries", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// parseLegacy applies the contents of r onto cfg.
func parseLegacy(r io.Reader, cfg *Config) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	numericSeen := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if key, val, ok := legacyKeyed(line); ok {
			if err := applyLegacyKey(cfg, key, val); err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			continue
		}

		if strings.HasPrefix(line, "opc.tcp://") {
			cfg.OPCUA.Endpoint = line
			continue
		}

		if n, err := strconv.Atoi(line); err == nil {
			switch numericSeen {
			case 0:
				cfg.Telemetry.Interval = n
			case 1:
				cfg.Subscription.PublishingInterval = n
			default:
				return fmt.Errorf("line %d: unexpected numeric value %q", lineNo, line)
			}
			numericSeen++
			continue
		}

		id, cred, ok := strings.Cut(line, ":")
		id = strings.TrimSpace(id)
		cred = strings.TrimSpace(cred)
		if !ok || id == "" || cred == "" {
			return fmt.Errorf("line %d: expected <device>:<credential>", lineNo)
		}
		if cfg.Devices == nil {
			cfg.Devices = map[string]string{}
		}
		cfg.Devices[id] = cred
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading legacy config: %w", err)
	}
	return nil
}

// legacyKeyed reports whether line is "key=value" for one of the header keys.
// Credential lines also contain '=', so only known keys are accepted.
func legacyKeyed(line string) (key, val string, ok bool) {
	key, val, ok = strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.ToLower(strings.TrimSpace(key))
	switch key {
	case legacyKeyAddress, legacyKeyTelemetryInterval, legacyKeyPublishingInterval:
		return key, strings.TrimSpace(val), true
	}
	return "", "", false
}

func applyLegacyKey(cfg *Config, key, val string) error {
	switch key {
	case legacyKeyAddress:
		cfg.OPCUA.Endpoint = val
	case legacyKeyTelemetryInterval:
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s %q", key, val)
		}
		cfg.Telemetry.Interval = n
	case legacyKeyPublishingInterval:
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s %q", key, val)
		}
		cfg.Subscription.PublishingInterval = n
	}
	return nil
}
