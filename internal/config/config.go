package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the pipeline and its control surface.
// Values come from defaults, an optional YAML file and the environment, in that order.
type Config struct {
	Port         int    `yaml:"port" validate:"min=1,max=65535"`
	Password     string `yaml:"password"`
	LogDirectory string `yaml:"log_dir" validate:"required"`
	LogLevel     string `yaml:"log_level" validate:"oneof=trace debug info warn warning error"`
	LogFormat    string `yaml:"log_format" validate:"oneof=console json"`

	CameraURL           string        `yaml:"camera_url" validate:"required,url"`
	CameraTimeout       time.Duration `yaml:"camera_timeout" validate:"gt=0"`
	CameraMaxFrameBytes int64         `yaml:"camera_max_frame_bytes" validate:"gt=0,max=268435456"`

	DetectorBackend  string        `yaml:"detector_backend" validate:"oneof=dnn remote"`
	ModelPath        string        `yaml:"model_path" validate:"required_if=DetectorBackend dnn"`
	ModelConfigPath  string        `yaml:"model_config_path" validate:"required_if=DetectorBackend dnn"`
	DetectorURL      string        `yaml:"detector_url" validate:"omitempty,url"`
	InferenceTimeout time.Duration `yaml:"inference_timeout" validate:"gt=0"`
	NMSThreshold     float64       `yaml:"nms_threshold" validate:"gt=0,lte=1"`

	BrokerHost           string        `yaml:"broker_host" validate:"required,hostname_rfc1123|ip"`
	BrokerPort           int           `yaml:"broker_port" validate:"min=1,max=65535"`
	AlertTopic           string        `yaml:"alert_topic" validate:"required"`
	MQTTClientPrefix     string        `yaml:"mqtt_client_prefix" validate:"required"`
	MQTTQoS              int           `yaml:"mqtt_qos" validate:"min=0,max=2"`
	MQTTConnectTimeout   time.Duration `yaml:"mqtt_connect_timeout" validate:"gt=0"`
	MQTTPublishTimeout   time.Duration `yaml:"mqtt_publish_timeout" validate:"gt=0"`
	DispatchRetryBackoff time.Duration `yaml:"dispatch_retry_backoff" validate:"gte=0"`
	DispatchBudget       time.Duration `yaml:"dispatch_budget" validate:"gt=0"`

	ConfidenceThreshold float64       `yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	DebounceWindow      time.Duration `yaml:"debounce_window" validate:"gte=0"`
	AlertClasses        []string      `yaml:"alert_classes"`
	AlertLogCapacity    int           `yaml:"alert_log_capacity" validate:"min=1"`
	CycleInterval       time.Duration `yaml:"cycle_interval" validate:"gt=0"`
	CaptureFailureLimit int           `yaml:"capture_failure_limit" validate:"min=1"`
	CaptureBackoff      time.Duration `yaml:"capture_backoff" validate:"gt=0"`

	StartArmed  bool `yaml:"start_armed"`
	AutoStart   bool `yaml:"auto_start"`
	ConfigWatch bool `yaml:"config_watch"`

	// ConfigFile is the YAML file the config was read from, if any.
	ConfigFile string `yaml:"-"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:         8080,
		LogDirectory: filepath.Join(".", "logs"),
		LogLevel:     "info",
		LogFormat:    "console",

		CameraURL:           "http://192.168.1.8/capture",
		CameraTimeout:       5 * time.Second,
		CameraMaxFrameBytes: 8 << 20,

		DetectorBackend:  "dnn",
		ModelPath:        filepath.Join(".", "models", "frozen_inference_graph.pb"),
		ModelConfigPath:  filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt"),
		InferenceTimeout: 10 * time.Second,
		NMSThreshold:     0.4,

		BrokerHost:           "localhost",
		BrokerPort:           1883,
		AlertTopic:           "watchover/alerts",
		MQTTClientPrefix:     "watchover",
		MQTTQoS:              1,
		MQTTConnectTimeout:   2 * time.Second,
		MQTTPublishTimeout:   2 * time.Second,
		DispatchRetryBackoff: 250 * time.Millisecond,
		DispatchBudget:       5 * time.Second,

		ConfidenceThreshold: 0.5,
		DebounceWindow:      5 * time.Second,
		AlertLogCapacity:    10,
		CycleInterval:       500 * time.Millisecond,
		CaptureFailureLimit: 3,
		CaptureBackoff:      10 * time.Second,

		AutoStart: true,
	}
}

// Load applies defaults, the YAML file named by CONFIG_FILE (when set) and
// the environment, then validates the result. A .env file (when present) is
// merged into the environment first without overriding variables already set,
// so it ranks above YAML and below the real environment.
// Every failure is returned as a *ConfigError.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &ConfigError{Problems: []string{".env: " + err.Error()}, Err: err}
	}
	return load(os.Getenv("CONFIG_FILE"))
}

// LoadFile is Load for an explicit YAML file, without reading .env.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, &ConfigError{Problems: []string{err.Error()}, Err: err}
		}
		cfg.ConfigFile = path
	}

	env := &envReader{}
	cfg.applyEnv(env)
	if len(env.problems) > 0 {
		return nil, &ConfigError{Problems: env.problems}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(env *envReader) {
	c.Port = env.getEnvAsInt("PORT", c.Port)
	c.Password = env.getEnv("PASSWORD", c.Password)
	c.LogDirectory = env.getEnv("LOG_DIR", c.LogDirectory)
	c.LogLevel = strings.ToLower(env.getEnv("LOG_LEVEL", c.LogLevel))
	c.LogFormat = strings.ToLower(env.getEnv("LOG_FORMAT", c.LogFormat))

	c.CameraURL = env.getEnv("CAMERA_URL", c.CameraURL)
	c.CameraTimeout = env.getEnvAsDuration("CAMERA_TIMEOUT", c.CameraTimeout)
	c.CameraMaxFrameBytes = env.getEnvAsInt64("CAMERA_MAX_FRAME_BYTES", c.CameraMaxFrameBytes)

	c.DetectorBackend = strings.ToLower(env.getEnv("DETECTOR_BACKEND", c.DetectorBackend))
	c.ModelPath = env.getEnv("MODEL_PATH", c.ModelPath)
	c.ModelConfigPath = env.getEnv("MODEL_CONFIG_PATH", c.ModelConfigPath)
	c.DetectorURL = env.getEnv("DETECTOR_URL", c.DetectorURL)
	c.InferenceTimeout = env.getEnvAsDuration("INFERENCE_TIMEOUT", c.InferenceTimeout)
	c.NMSThreshold = env.getEnvAsFloat("NMS_THRESHOLD", c.NMSThreshold)

	c.BrokerHost = env.getEnv("BROKER_HOST", c.BrokerHost)
	c.BrokerPort = env.getEnvAsInt("BROKER_PORT", c.BrokerPort)
	c.AlertTopic = env.getEnv("ALERT_TOPIC", c.AlertTopic)
	c.MQTTClientPrefix = env.getEnv("MQTT_CLIENT_PREFIX", c.MQTTClientPrefix)
	c.MQTTQoS = env.getEnvAsInt("MQTT_QOS", c.MQTTQoS)
	c.MQTTConnectTimeout = env.getEnvAsDuration("MQTT_CONNECT_TIMEOUT", c.MQTTConnectTimeout)
	c.MQTTPublishTimeout = env.getEnvAsDuration("MQTT_PUBLISH_TIMEOUT", c.MQTTPublishTimeout)
	c.DispatchRetryBackoff = env.getEnvAsDuration("DISPATCH_RETRY_BACKOFF", c.DispatchRetryBackoff)
	c.DispatchBudget = env.getEnvAsDuration("DISPATCH_BUDGET", c.DispatchBudget)

	c.ConfidenceThreshold = env.getEnvAsFloat("CONFIDENCE_THRESHOLD", c.ConfidenceThreshold)
	c.DebounceWindow = env.getEnvAsDuration("DEBOUNCE_WINDOW", c.DebounceWindow)
	c.AlertClasses = env.getEnvAsList("ALERT_CLASSES", c.AlertClasses)
	c.AlertLogCapacity = env.getEnvAsInt("ALERT_LOG_CAPACITY", c.AlertLogCapacity)
	c.CycleInterval = env.getEnvAsDuration("CYCLE_INTERVAL", c.CycleInterval)
	c.CaptureFailureLimit = env.getEnvAsInt("CAPTURE_FAILURE_LIMIT", c.CaptureFailureLimit)
	c.CaptureBackoff = env.getEnvAsDuration("CAPTURE_BACKOFF", c.CaptureBackoff)

	c.StartArmed = env.getEnvAsBool("START_ARMED", c.StartArmed)
	c.AutoStart = env.getEnvAsBool("AUTO_START", c.AutoStart)
	c.ConfigWatch = env.getEnvAsBool("CONFIG_WATCH", c.ConfigWatch)
}

// BrokerURL returns the MQTT broker address in paho form.
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.BrokerHost, c.BrokerPort)
}

// Addr returns the listen address of the control surface.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report yaml keys rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks every field and returns a *ConfigError describing all violations.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		if c.DetectorBackend == "remote" && c.DetectorURL == "" {
			return &ConfigError{Problems: []string{"detector_url: required when detector_backend is remote"}}
		}
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ConfigError{Problems: []string{err.Error()}, Err: err}
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		problems = append(problems, fmt.Sprintf("%s: value %v violates %s", fe.Field(), fe.Value(), rule))
	}
	return &ConfigError{Problems: problems, Err: err}
}

// envReader reads typed environment variables, remembering values that fail to parse.
type envReader struct {
	problems []string
}

func (r *envReader) lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

func (r *envReader) invalid(key, value, kind string) {
	r.problems = append(r.problems, fmt.Sprintf("%s: %q is not a valid %s", key, value, kind))
}

func (r *envReader) getEnv(key, defaultValue string) string {
	if value, ok := r.lookup(key); ok {
		return value
	}
	return defaultValue
}

func (r *envReader) getEnvAsInt(key string, defaultValue int) int {
	value, ok := r.lookup(key)
	if !ok {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		r.invalid(key, value, "integer")
		return defaultValue
	}
	return intValue
}

func (r *envReader) getEnvAsInt64(key string, defaultValue int64) int64 {
	value, ok := r.lookup(key)
	if !ok {
		return defaultValue
	}
	intValue, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		r.invalid(key, value, "integer")
		return defaultValue
	}
	return intValue
}

func (r *envReader) getEnvAsFloat(key string, defaultValue float64) float64 {
	value, ok := r.lookup(key)
	if !ok {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.invalid(key, value, "number")
		return defaultValue
	}
	return floatValue
}

func (r *envReader) getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, ok := r.lookup(key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.invalid(key, value, "duration (e.g. 250ms, 5s)")
		return defaultValue
	}
	return d
}

func (r *envReader) getEnvAsBool(key string, defaultValue bool) bool {
	value, ok := r.lookup(key)
	if !ok {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		r.invalid(key, value, "boolean")
		return defaultValue
	}
	return b
}

func (r *envReader) getEnvAsList(key string, defaultValue []string) []string {
	value, ok := r.lookup(key)
	if !ok {
		return defaultValue
	}
	var items []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}
