package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version" mapstructure:"version"`

	Capture CaptureConfig `yaml:"capture" mapstructure:"capture"`
	Dedupe  DedupeConfig  `yaml:"dedupe" mapstructure:"dedupe"`
	Convert ConvertConfig `yaml:"convert" mapstructure:"convert"`
	Service ServiceConfig `yaml:"service" mapstructure:"service"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Report  ReportConfig  `yaml:"report" mapstructure:"report"`

	Sqlite struct {
		Dsn    string `yaml:"dsn" mapstructure:"dsn"`
		Prefix string `yaml:"prefix" mapstructure:"prefix"`
	} `yaml:"sqlite" mapstructure:"sqlite"`

	Log struct {
		Level  string   `yaml:"level" mapstructure:"level"`
		Writer []string `yaml:"writer" mapstructure:"writer"`
		File   string   `yaml:"file" mapstructure:"file"`
	} `yaml:"log" mapstructure:"log"`
}

// CaptureConfig 页面加载与图表等待
type CaptureConfig struct {
	WatchWindowMS       int    `yaml:"watch_window_ms" mapstructure:"watch_window_ms"`
	WatchPollMS         int    `yaml:"watch_poll_ms" mapstructure:"watch_poll_ms"`
	Headless            bool   `yaml:"headless" mapstructure:"headless"`
	NavigationTimeoutMS int    `yaml:"navigation_timeout_ms" mapstructure:"navigation_timeout_ms"`
	PreCloseWaitMS      int    `yaml:"pre_close_wait_ms" mapstructure:"pre_close_wait_ms"`
	DevToolsURL         string `yaml:"devtools_url" mapstructure:"devtools_url"`
	ChromePath          string `yaml:"chrome_path" mapstructure:"chrome_path"`
}

// DedupeConfig 去重窗口（秒），0 表示关闭对应的抑制
type DedupeConfig struct {
	SuccessSeconds int `yaml:"success_seconds" mapstructure:"success_seconds"`
	FailureSeconds int `yaml:"failure_seconds" mapstructure:"failure_seconds"`
}

// ConvertConfig PDF 转换引擎
type ConvertConfig struct {
	Engine                    string `yaml:"engine" mapstructure:"engine"`
	LibreOfficeTimeoutSeconds int    `yaml:"libreoffice_timeout_seconds" mapstructure:"libreoffice_timeout_seconds"`
	WordTimeoutSeconds        int    `yaml:"word_timeout_seconds" mapstructure:"word_timeout_seconds"`
}

// ServiceConfig 执行阶段
type ServiceConfig struct {
	Workers               int `yaml:"workers" mapstructure:"workers"`
	QueueSize             int `yaml:"queue_size" mapstructure:"queue_size"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
}

// ServerConfig MCP 传输，MountPath 为所有 MCP 端点的前缀
type ServerConfig struct {
	Transport   string `yaml:"transport" mapstructure:"transport"`
	Host        string `yaml:"host" mapstructure:"host"`
	Port        int    `yaml:"port" mapstructure:"port"`
	Path        string `yaml:"path" mapstructure:"path"`
	SSEPath     string `yaml:"sse_path" mapstructure:"sse_path"`
	MessagePath string `yaml:"message_path" mapstructure:"message_path"`
	MountPath   string `yaml:"mount_path" mapstructure:"mount_path"`
}

// ReportConfig 报告默认值
type ReportConfig struct {
	DefaultTicker    string `yaml:"default_ticker" mapstructure:"default_ticker"`
	DefaultRecipient string `yaml:"default_recipient" mapstructure:"default_recipient"`
	OutputDir        string `yaml:"output_dir" mapstructure:"output_dir"`
	QuoteURLTemplate string `yaml:"quote_url_template" mapstructure:"quote_url_template"`
}

const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
)

// NewConfig 创建默认配置
func NewConfig() *Config {
	cfg := &Config{
		Version: "1.0.0",
		Capture: CaptureConfig{
			WatchWindowMS:       20_000,
			WatchPollMS:         150,
			NavigationTimeoutMS: 45_000,
			PreCloseWaitMS:      2_000,
		},
		Dedupe: DedupeConfig{SuccessSeconds: 90, FailureSeconds: 25},
		Convert: ConvertConfig{
			Engine:                    "auto",
			LibreOfficeTimeoutSeconds: 120,
			WordTimeoutSeconds:        120,
		},
		Service: ServiceConfig{Workers: 2, QueueSize: 8, RequestTimeoutSeconds: 600},
		Server: ServerConfig{
			Transport:   TransportSSE,
			Host:        "127.0.0.1",
			Port:        8001,
			Path:        "/mcp",
			SSEPath:     "/sse",
			MessagePath: "/messages/",
			MountPath:   "/",
		},
		Report: ReportConfig{
			DefaultTicker:    "HUB",
			DefaultRecipient: "test@gmail.com",
			OutputDir:        "output",
			QuoteURLTemplate: "https://au.finance.yahoo.com/quote/%s.AX/",
		},
	}
	cfg.Sqlite.Dsn = "asxreport.sqlite3"
	cfg.Sqlite.Prefix = "asx_"
	cfg.Log.Level = "info"
	cfg.Log.Writer = []string{"console", "file"}
	cfg.Log.File = "logs/asxreport.log"
	return cfg
}

// envBindings 配置键与环境变量的对应关系
var envBindings = map[string]string{
	"capture.watch_window_ms":             "ASX_WATCH_WINDOW_MS",
	"capture.watch_poll_ms":               "ASX_WATCH_POLL_MS",
	"capture.headless":                    "ASX_HEADLESS",
	"capture.navigation_timeout_ms":       "ASX_NAVIGATION_TIMEOUT_MS",
	"capture.pre_close_wait_ms":           "ASX_PRE_CLOSE_WAIT_MS",
	"capture.devtools_url":                "ASX_DEVTOOLS_URL",
	"capture.chrome_path":                 "ASX_CHROME_PATH",
	"dedupe.success_seconds":              "MCP_DEDUPE_SECONDS",
	"dedupe.failure_seconds":              "MCP_ERROR_DEDUPE_SECONDS",
	"convert.engine":                      "ASX_PDF_ENGINE",
	"convert.libreoffice_timeout_seconds": "ASX_LIBREOFFICE_TIMEOUT_SECONDS",
	"convert.word_timeout_seconds":        "ASX_WORD_TIMEOUT_SECONDS",
	"service.workers":                     "ASX_WORKERS",
	"service.queue_size":                  "ASX_QUEUE_SIZE",
	"service.request_timeout_seconds":     "ASX_REQUEST_TIMEOUT_SECONDS",
	"server.transport":                    "MCP_TRANSPORT",
	"server.host":                         "MCP_HOST",
	"server.port":                         "MCP_PORT",
	"server.path":                         "MCP_STREAMABLE_HTTP_PATH",
	"server.sse_path":                     "MCP_SSE_PATH",
	"server.message_path":                 "MCP_MESSAGE_PATH",
	"server.mount_path":                   "MCP_MOUNT_PATH",
	"report.default_ticker":               "ASX_DEFAULT_CODE",
	"report.default_recipient":            "ASX_DEFAULT_RECIPIENT",
	"report.output_dir":                   "ASX_OUTPUT_DIR",
	"sqlite.dsn":                          "ASX_SQLITE_DSN",
	"sqlite.prefix":                       "ASX_SQLITE_PREFIX",
	"log.level":                           "LOG_LEVEL",
	"log.writer":                          "LOG_WRITER",
	"log.file":                            "LOG_FILE",
}

// Load 读取可选的 YAML 配置文件并应用环境变量覆盖
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, NewConfig())
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("capture.watch_window_ms", d.Capture.WatchWindowMS)
	v.SetDefault("capture.watch_poll_ms", d.Capture.WatchPollMS)
	v.SetDefault("capture.headless", d.Capture.Headless)
	v.SetDefault("capture.navigation_timeout_ms", d.Capture.NavigationTimeoutMS)
	v.SetDefault("capture.pre_close_wait_ms", d.Capture.PreCloseWaitMS)
	v.SetDefault("capture.devtools_url", d.Capture.DevToolsURL)
	v.SetDefault("capture.chrome_path", d.Capture.ChromePath)
	v.SetDefault("dedupe.success_seconds", d.Dedupe.SuccessSeconds)
	v.SetDefault("dedupe.failure_seconds", d.Dedupe.FailureSeconds)
	v.SetDefault("convert.engine", d.Convert.Engine)
	v.SetDefault("convert.libreoffice_timeout_seconds", d.Convert.LibreOfficeTimeoutSeconds)
	v.SetDefault("convert.word_timeout_seconds", d.Convert.WordTimeoutSeconds)
	v.SetDefault("service.workers", d.Service.Workers)
	v.SetDefault("service.queue_size", d.Service.QueueSize)
	v.SetDefault("service.request_timeout_seconds", d.Service.RequestTimeoutSeconds)
	v.SetDefault("server.transport", d.Server.Transport)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.path", d.Server.Path)
	v.SetDefault("server.sse_path", d.Server.SSEPath)
	v.SetDefault("server.message_path", d.Server.MessagePath)
	v.SetDefault("server.mount_path", d.Server.MountPath)
	v.SetDefault("report.default_ticker", d.Report.DefaultTicker)
	v.SetDefault("report.default_recipient", d.Report.DefaultRecipient)
	v.SetDefault("report.output_dir", d.Report.OutputDir)
	v.SetDefault("report.quote_url_template", d.Report.QuoteURLTemplate)
	v.SetDefault("sqlite.dsn", d.Sqlite.Dsn)
	v.SetDefault("sqlite.prefix", d.Sqlite.Prefix)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.writer", d.Log.Writer)
	v.SetDefault("log.file", d.Log.File)
}

// normalize 归一化取值并把时间类参数钳制到下限
func (c *Config) normalize() {
	c.Capture.WatchWindowMS = max(c.Capture.WatchWindowMS, 1_000)
	c.Capture.WatchPollMS = max(c.Capture.WatchPollMS, 50)
	c.Capture.PreCloseWaitMS = max(c.Capture.PreCloseWaitMS, 0)
	c.Capture.NavigationTimeoutMS = max(c.Capture.NavigationTimeoutMS, 1_000)
	c.Dedupe.SuccessSeconds = max(c.Dedupe.SuccessSeconds, 0)
	c.Dedupe.FailureSeconds = max(c.Dedupe.FailureSeconds, 0)
	c.Convert.LibreOfficeTimeoutSeconds = max(c.Convert.LibreOfficeTimeoutSeconds, 30)
	c.Convert.WordTimeoutSeconds = max(c.Convert.WordTimeoutSeconds, 30)
	c.Service.Workers = max(c.Service.Workers, 1)
	c.Service.QueueSize = max(c.Service.QueueSize, 1)
	c.Service.RequestTimeoutSeconds = max(c.Service.RequestTimeoutSeconds, 60)

	c.Convert.Engine = strings.ToLower(strings.TrimSpace(c.Convert.Engine))
	if c.Convert.Engine == "" {
		c.Convert.Engine = "auto"
	}
	c.Server.Transport = NormalizeTransport(c.Server.Transport)
	c.Report.DefaultTicker = strings.ToUpper(strings.TrimSpace(c.Report.DefaultTicker))
}

// NormalizeTransport 统一传输名的大小写与别名，空值为 sse，无法识别的原样返回
func NormalizeTransport(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", TransportSSE:
		return TransportSSE
	case TransportStreamableHTTP, "streamable_http", "http":
		return TransportStreamableHTTP
	case TransportStdio:
		return TransportStdio
	}
	return t
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if c.Capture.WatchPollMS <= 0 {
		errs = append(errs, errors.New("capture.watch_poll_ms must be > 0"))
	}
	if c.Capture.WatchWindowMS <= c.Capture.WatchPollMS {
		errs = append(errs, errors.New("capture.watch_window_ms must be greater than capture.watch_poll_ms"))
	}
	switch c.Server.Transport {
	case TransportStdio, TransportSSE, TransportStreamableHTTP:
	default:
		errs = append(errs, fmt.Errorf("unsupported server.transport %q", c.Server.Transport))
	}
	if c.Server.Transport != TransportStdio && (c.Server.Port < 1 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Errorf("invalid server.port %d", c.Server.Port))
	}
	if !strings.Contains(c.Report.QuoteURLTemplate, "%s") {
		errs = append(errs, errors.New("report.quote_url_template must contain %s"))
	}
	return errors.Join(errs...)
}

// WatchWindow 渲染等待总预算
func (c *Config) WatchWindow() time.Duration {
	return time.Duration(c.Capture.WatchWindowMS) * time.Millisecond
}

// WatchPoll 探测间隔
func (c *Config) WatchPoll() time.Duration {
	return time.Duration(c.Capture.WatchPollMS) * time.Millisecond
}

// SuccessWindow 成功去重窗口
func (c *Config) SuccessWindow() time.Duration {
	return time.Duration(c.Dedupe.SuccessSeconds) * time.Second
}

// FailureWindow 失败去重窗口
func (c *Config) FailureWindow() time.Duration {
	return time.Duration(c.Dedupe.FailureSeconds) * time.Second
}

// RequestTimeout 单次请求的整体超时
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Service.RequestTimeoutSeconds) * time.Second
}

// Addr HTTP 监听地址
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
