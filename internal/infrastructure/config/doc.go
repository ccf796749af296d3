// Package config loads and validates the SmartConnect server configuration.
//
// Configuration is read once at startup from a YAML file, then selected
// values are overridden from SMARTCONNECT_* environment variables.
// Credentials (MQTT password, InfluxDB token) should come from the
// environment or a .env file rather than the YAML file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
