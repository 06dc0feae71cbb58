package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Price Alerts Configuration

[engine]
# How often pending alerts are evaluated
interval = "60s"
# Per-pair price fetch timeout; a timed out fetch is retried next tick
fetch_timeout = "10s"
# Per-delivery timeout for notifications
delivery_timeout = "15s"
# Maximum concurrent price fetches in one tick
max_concurrent_fetches = 8
# "==" alerts fire when |price - threshold| <= max(abs, relative * threshold)
equality_tolerance = 0.0001
equality_abs_tolerance = 0.000000001

[store]
# Backend: "json", "sqlite" or "redis"
backend = "json"
# path = "~/.config/price-alerts/data/alerts.json"

[store.redis]
addr = "localhost:6379"
password = ""
db = 0
key = "price-alerts:alerts"

[pricing]
# Provider: "coingecko" or "binance"
provider = "coingecko"

[pricing.coingecko]
base_url = "https://api.coingecko.com/api/v3"
api_key = ""
timeout = "15s"
cache_ttl = "30s"
requests_per_minute = 30
max_retries = 2

# Symbol to CoinGecko coin id overrides
[pricing.coingecko.ids]
# pepe = "pepe"

[pricing.binance]
api_key = ""
api_secret = ""

[pricing.binance.quote_aliases]
usd = "USDT"

[notifications]
# Log every fired alert through the application logger
log = true

# Print fired alerts to the console (useful with "alertd run" in a terminal)
[notifications.terminal]
enabled = false
bell = true

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""

[notifications.email]
enabled = false
smtp_host = ""
smtp_port = 587
username = ""
password = ""
from = ""
domain = ""

[notifications.nats]
enabled = false
url = "nats://127.0.0.1:4222"
subject_prefix = "alerts.fired"

# Serve /healthz, /livez and /readyz while "alertd run" is active
[health]
enabled = false
listen = "127.0.0.1:8089"
check_interval = "30s"

[logging]
level = "info"
console = true
file = true
max_size = 50
max_backups = 5
max_age = 30
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
