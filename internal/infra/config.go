package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации всей платформы.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Approval   ApprovalConfig   `mapstructure:"approval"`
	Deploy     DeployConfig     `mapstructure:"deploy"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Recovery   RecoveryConfig   `mapstructure:"recovery"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Transition TransitionConfig `mapstructure:"transition"`
}

// ServerConfig описывает настройки HTTP-сервера консоли.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub командного канала).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console API
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// ApprovalConfig — параметры шлюза подтверждений (HITL).
type ApprovalConfig struct {
	// Жесткий wall-clock дедлайн ожидания решения оператора
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	// Интервал опроса хранилища заявок
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DeployConfig — параметры менеджера деплоя.
type DeployConfig struct {
	// Workspace — базовая директория со сгенерированными исходниками агентов
	Workspace string `mapstructure:"workspace"`
	// Таймауты install/build шагов. Превышение фатально, без ретраев.
	InstallTimeout time.Duration `mapstructure:"install_timeout"`
	BuildTimeout   time.Duration `mapstructure:"build_timeout"`
	// Грейс-период: за это время свежезапущенный процесс не должен упасть
	StartupGrace time.Duration `mapstructure:"startup_grace"`
	// Пауза между stop и start при рестарте
	RestartDelay time.Duration `mapstructure:"restart_delay"`
	// Docker Engine API (пусто — стандартный сокет из окружения)
	DockerHost string `mapstructure:"docker_host"`
}

// MonitorConfig — дефолты движка мониторинга.
type MonitorConfig struct {
	DefaultInterval time.Duration `mapstructure:"default_interval"`
	// Порог error_count, после которого агент считается degraded
	ErrorThreshold int `mapstructure:"error_threshold"`
}

// RecoveryConfig — лимиты движка восстановления.
type RecoveryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	// Пауза между stop и повторным DEPLOYING при deployment_failure
	RedeployDelay time.Duration `mapstructure:"redeploy_delay"`
}

// TransitionConfig — настройки батч-записи аудита переходов.
type TransitionConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Загрузка ключей из Файла ИЛИ из ENV
	// Сначала проверяем, не лежит ли сам PEM-ключ в ENV (для Docker/K8s)
	// Если нет — читаем файл по указанному пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("approval.wait_timeout", time.Hour)
	v.SetDefault("approval.poll_interval", 5*time.Second)
	v.SetDefault("deploy.workspace", "./agents")
	v.SetDefault("deploy.install_timeout", 120*time.Second)
	v.SetDefault("deploy.build_timeout", 60*time.Second)
	v.SetDefault("deploy.startup_grace", 2*time.Second)
	v.SetDefault("deploy.restart_delay", 2*time.Second)
	v.SetDefault("monitor.default_interval", 30*time.Second)
	v.SetDefault("monitor.error_threshold", 5)
	v.SetDefault("recovery.max_attempts", 3)
	v.SetDefault("recovery.redeploy_delay", 2*time.Second)
	v.SetDefault("transition.buffer_size", 10000)
	v.SetDefault("transition.flush_interval", 500*time.Millisecond)
}

// loadKeyResource — универсальный хелпер архитектора
func loadKeyResource(path string, envDataKey string) []byte {
	// Если ключ прилетел напрямую в ENV (Base64 или PEM)
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	// Иначе читаем файл по пути из конфига
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
