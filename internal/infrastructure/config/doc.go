// Package config loads the bridge configuration.
//
// Load reads the YAML file, merges credentials from the line-oriented
// devices file when one is named, and then applies .env and IOTBRIDGE_*
// environment overrides before validating. A missing file is reported as
// ErrNotFound so the CLI can print setup guidance instead of failing:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if errors.Is(err, config.ErrNotFound) {
//		// explain and exit
//	}
//
// Device connection strings carry shared access keys. Keep them in
// IOTBRIDGE_DEVICE_<ID> variables or a .env file, and use Redacted when
// printing a Config.
package config
