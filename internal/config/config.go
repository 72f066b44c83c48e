// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек гейткипера
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	HTTPServer              `yaml:"http_server"`
	Telegram                `yaml:"telegram"`
	Sweep                   `yaml:"sweep"`
	PaymentWebhook          `yaml:"payment_webhook"`
}

// HTTPServer структура для настройки сервера вебхуков
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// RabbitMQ структура для настройки подключения к брокеру событий оплаты
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
}

// Telegram структура с настройками бота и закрытого канала
type Telegram struct {
	Token              string        `yaml:"token" env:"BOT_TOKEN"`
	APIEndpoint        string        `yaml:"api_endpoint" env-default:"https://api.telegram.org"`
	ChannelID          int64         `yaml:"channel_id"`
	AdminIDs           []int64       `yaml:"admin_ids"`
	TrialDays          int           `yaml:"trial_days" env-default:"3"`
	WelcomeVideoFileID string        `yaml:"welcome_video_file_id"`
	PollTimeout        time.Duration `yaml:"poll_timeout" env-default:"30s"`
	PageSize           int           `yaml:"page_size" env-default:"20"`
}

// Sweep структура с настройками регулярных проверок подписок
type Sweep struct {
	DailyAt          string        `yaml:"daily_at" env-default:"09:00"`
	Interval         time.Duration `yaml:"interval" env-default:"6h"`
	SettleDelay      time.Duration `yaml:"settle_delay" env-default:"1s"`
	DirectoryTimeout time.Duration `yaml:"directory_timeout" env-default:"10s"`
	InviteTTL        time.Duration `yaml:"invite_ttl" env-default:"24h"`
}

// PaymentWebhook структура с настройками вебхука платежного провайдера
type PaymentWebhook struct {
	Secret string `yaml:"secret" env:"WEBHOOK_SECRET"`
}

// MustLoad функция для загрузки конфига, путь берется из переменной CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}

// IsAdmin проверяет, входит ли telegram id в список администраторов
func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"StorageConnectionString: %s\n"+
			"RabbitMQ:\n"+
			"  URL: %s\n"+
			"Telegram:\n"+
			"  ChannelID: %d\n"+
			"  TrialDays: %d\n"+
			"  PageSize: %d\n"+
			"Sweep:\n"+
			"  DailyAt: %s\n"+
			"  Interval: %s\n"+
			"  SettleDelay: %s\n"+
			"  DirectoryTimeout: %s\n"+
			"  InviteTTL: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n",
		c.Env,
		c.StorageConnectionString,
		c.RabbitMQURL,
		c.ChannelID,
		c.TrialDays,
		c.PageSize,
		c.DailyAt,
		c.Interval,
		c.SettleDelay,
		c.DirectoryTimeout,
		c.InviteTTL,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
	)
}
