// Package config loads the JSON configuration file for callsentryd,
// falling back to documented defaults when the file is missing.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config mirrors the JSON fields spec.md §6 defines for this service.
type Config struct {
	AppName      string `json:"app_name"`
	AppAPIHost   string `json:"app_api_host"`
	AppAPIPort   int    `json:"app_api_port"`

	TimeoutKeepAlive int  `json:"timeout_keep_alive"`
	Alive            bool `json:"alive"`
	WaitShutdown     int  `json:"wait_shutdown"`
	ConsoleLog       bool `json:"console_log"`

	AppUnicastHost         string `json:"app_unicast_host"`
	AppUnicastPort         int    `json:"app_unicast_port"`
	AppUnicastProtocol     string `json:"app_unicast_protocol"`
	AppUnicastBufferSize   int    `json:"app_unicast_buffer_size"`

	SavePNGMatchDetection bool   `json:"save_png_match_detection"`
	TemplateFolderPath    string `json:"template_folder_path"`

	CallbackHost string `json:"callback_host"`
	CallbackPort int    `json:"callback_port"`

	RecordsFolderPath string `json:"records_folder_path"`
}

// defaults mirrors original_source/src/config.py's `default` dict.
func defaults() Config {
	return Config{
		AppName:                "callsentryd",
		AppAPIHost:             "0.0.0.0",
		AppAPIPort:             8080,
		TimeoutKeepAlive:       5,
		Alive:                  true,
		WaitShutdown:           5,
		ConsoleLog:             true,
		AppUnicastHost:         "0.0.0.0",
		AppUnicastPort:         9000,
		AppUnicastProtocol:     "udp",
		AppUnicastBufferSize:   1 << 20,
		SavePNGMatchDetection:  false,
		TemplateFolderPath:     "./templates",
		CallbackHost:           "127.0.0.1",
		CallbackPort:           8081,
		RecordsFolderPath:      "./records",
	}
}

// Load reads the JSON config at path, merging it over the documented
// defaults. A missing file is not an error: defaults are returned as-is
// and the caller is expected to log the fallback (see xlog usage in
// cmd/callsentryd).
func Load(path string) (Config, bool, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, false, nil
		}
		return Config{}, false, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, true, nil
}
