package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Bot      BotConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// APITokenHash - bcrypt хеш операторского токена для REST API.
	// Пустое значение отключает аутентификацию (только для разработки).
	APITokenHash string
}

// BotConfig - настройки торгового ядра
type BotConfig struct {
	// Планировщик задач
	TickInterval      time.Duration // базовый интервал тика планировщика
	IdleMultiplier    float64       // множитель задержки когда все задачи внутри коридора
	MaxIdleMultiplier float64       // потолок для множителя, запрошенного задачами

	// Реконсилятор ордеров
	ReconcileInterval time.Duration // интервал прохода по незакрытым ордерам

	// Биржевые вызовы
	ExchangeBaseURL string        // REST API биржи
	ExchangeWSURL   string        // WebSocket поток котировок
	APIKey          string        // ключ API биржи
	SecretKey       string        // секрет для подписи запросов
	OrderTimeout    time.Duration // таймаут одного вызова биржи
	PlacementRetry  int           // попыток размещения (включая первую)
	ExchangeRate    float64       // rate limit запросов к бирже, req/sec
	ExchangeBurst   float64       // burst для rate limiter'а

	// WebSocket фид
	WSReconnectDelay time.Duration // начальная задержка перед переподключением
	WSPingInterval   time.Duration // интервал ping для поддержания соединения
	WSReadTimeout    time.Duration // таймаут чтения WS сообщений

	// DryRun запускает движок против бумажной биржи (без реальных ордеров)
	DryRun bool
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "gridbot"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			APITokenHash: getEnv("API_TOKEN_HASH", ""),
		},
		Bot: BotConfig{
			TickInterval:      getEnvAsDuration("TICK_INTERVAL", 200*time.Millisecond),
			IdleMultiplier:    getEnvAsFloat("IDLE_MULTIPLIER", 5),
			MaxIdleMultiplier: getEnvAsFloat("MAX_IDLE_MULTIPLIER", 25),

			ReconcileInterval: getEnvAsDuration("RECONCILE_INTERVAL", 1*time.Second),

			ExchangeBaseURL: getEnv("EXCHANGE_BASE_URL", "https://fapi.binance.com"),
			ExchangeWSURL:   getEnv("EXCHANGE_WS_URL", "wss://fstream.binance.com/ws"),
			APIKey:          getEnv("EXCHANGE_API_KEY", ""),
			SecretKey:       getEnv("EXCHANGE_SECRET_KEY", ""),

			OrderTimeout:   getEnvAsDuration("ORDER_TIMEOUT", 5*time.Second),
			PlacementRetry: getEnvAsInt("PLACEMENT_RETRY", 2),
			ExchangeRate:   getEnvAsFloat("EXCHANGE_RATE_LIMIT", 10),
			ExchangeBurst:  getEnvAsFloat("EXCHANGE_RATE_BURST", 20),

			WSReconnectDelay: getEnvAsDuration("WS_RECONNECT_DELAY", 1*time.Second),
			WSPingInterval:   getEnvAsDuration("WS_PING_INTERVAL", 15*time.Second),
			WSReadTimeout:    getEnvAsDuration("WS_READ_TIMEOUT", 30*time.Second),

			DryRun: getEnvAsBool("DRY_RUN", false),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	// Валидация интервалов (должны быть положительными)
	if c.Bot.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %v", c.Bot.TickInterval)
	}

	if c.Bot.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive, got %v", c.Bot.ReconcileInterval)
	}

	if c.Bot.OrderTimeout <= 0 {
		return fmt.Errorf("ORDER_TIMEOUT must be positive, got %v", c.Bot.OrderTimeout)
	}

	if c.Bot.WSReadTimeout <= 0 {
		return fmt.Errorf("WS_READ_TIMEOUT must be positive, got %v", c.Bot.WSReadTimeout)
	}

	// Валидация множителей задержки
	if c.Bot.IdleMultiplier < 1 {
		return fmt.Errorf("IDLE_MULTIPLIER must be at least 1, got %v", c.Bot.IdleMultiplier)
	}

	if c.Bot.MaxIdleMultiplier < c.Bot.IdleMultiplier {
		return fmt.Errorf("MAX_IDLE_MULTIPLIER must be >= IDLE_MULTIPLIER, got %v", c.Bot.MaxIdleMultiplier)
	}

	// Валидация retry параметров
	if c.Bot.PlacementRetry < 1 {
		return fmt.Errorf("PLACEMENT_RETRY must be at least 1, got %d", c.Bot.PlacementRetry)
	}

	if c.Bot.PlacementRetry > 10 {
		return fmt.Errorf("PLACEMENT_RETRY should not exceed 10, got %d", c.Bot.PlacementRetry)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
