// Package config loads the daemon configuration from config.yml, LCIT_*
// environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sweeney/lc-interface-test/internal/gpio"
	"github.com/sweeney/lc-interface-test/internal/thermal"
)

// EnvPrefix prefixes every environment override, e.g. LCIT_MQTT_BROKER.
const EnvPrefix = "LCIT"

// ProbeKeys maps the config key under probes.ids to the probe name. Keys
// are slugs because viper folds keys to lower case.
var ProbeKeys = map[string]string{
	"loc_top":      thermal.ProbeLocTop,
	"loc_bottom":   thermal.ProbeLocBottom,
	"inverter_1":   thermal.ProbeInverter1,
	"inverter_2":   thermal.ProbeInverter2,
	"loc_external": thermal.ProbeLocExternal,
}

// Config is the daemon configuration.
type Config struct {
	Simulation bool
	LogLevel   string
	GPIO       GPIOConfig
	Probes     ProbesConfig
	Timing     TimingConfig
	Paths      PathsConfig
	MQTT       MQTTConfig
	HTTP       HTTPConfig
	Queue      QueueConfig
}

// GPIOConfig selects the chip, line offsets and drive polarity.
type GPIOConfig struct {
	Chip     string
	Pins     gpio.Pins
	Polarity gpio.Polarity
	Debounce time.Duration
}

// ProbesConfig locates the DS18B20 probes on the 1-wire bus.
type ProbesConfig struct {
	W1Dir string
	IDs   map[string]string // probe name -> 1-wire device id
}

// TimingConfig holds the control loop intervals.
type TimingConfig struct {
	Tick             time.Duration
	TempInterval     time.Duration
	SensorFaultAfter time.Duration
	Heartbeat        time.Duration // 0 disables
}

// PathsConfig holds every file the daemon writes.
type PathsConfig struct {
	Settings   string
	Email      string
	Counts     string
	EventLog   string
	SessionLog string
	HistoryDB  string // empty disables the history database
}

// MQTTConfig configures the broker connection. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker     string
	ClientID   string
	BufferSize int
}

// HTTPConfig configures the operator HTTP surface. An empty address
// disables it.
type HTTPConfig struct {
	Addr string
}

// QueueConfig sizes the side-effect job queue.
type QueueConfig struct {
	Size         int
	Retries      int
	Backoff      time.Duration
	DrainTimeout time.Duration
}

func setDefaults(v *viper.Viper) {
	pins := gpio.DefaultPins()
	pol := gpio.DefaultPolarity()

	v.SetDefault("simulation", false)
	v.SetDefault("log_level", "info")

	v.SetDefault("gpio.chip", "gpiochip0")
	v.SetDefault("gpio.pin_raise", pins.Raise)
	v.SetDefault("gpio.pin_lower", pins.Lower)
	v.SetDefault("gpio.pin_start_button", pins.StartButton)
	v.SetDefault("gpio.pin_stop_button", pins.StopButton)
	v.SetDefault("gpio.pin_led_raise", pins.LedRaise)
	v.SetDefault("gpio.pin_led_lower", pins.LedLower)
	v.SetDefault("gpio.relay_active_high", pol.RelayActiveHigh)
	v.SetDefault("gpio.led_active_high", pol.LedActiveHigh)
	v.SetDefault("gpio.debounce", 50*time.Millisecond)

	v.SetDefault("probes.w1_dir", thermal.DefaultW1Dir)
	for key := range ProbeKeys {
		v.SetDefault("probes.ids."+key, "")
	}

	v.SetDefault("timing.tick", 200*time.Millisecond)
	v.SetDefault("timing.temp_interval", 30*time.Second)
	v.SetDefault("timing.sensor_fault_after", thermal.DefaultFaultAfter)
	v.SetDefault("timing.heartbeat", 15*time.Minute)

	v.SetDefault("paths.settings", "data/settings.json")
	v.SetDefault("paths.email", "data/email.json")
	v.SetDefault("paths.counts", "data/counts.json")
	v.SetDefault("paths.event_log", "data/events.csv")
	v.SetDefault("paths.session_log", "data/sessions.csv")
	v.SetDefault("paths.history_db", "data/history.db")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "lc-interface-test")
	v.SetDefault("mqtt.buffer_size", 256)

	// The kiosk browser runs on the Pi itself; set http.addr to expose the
	// controls on the LAN.
	v.SetDefault("http.addr", "127.0.0.1:8080")

	v.SetDefault("queue.size", 256)
	v.SetDefault("queue.retries", 2)
	v.SetDefault("queue.backoff", 500*time.Millisecond)
	v.SetDefault("queue.drain_timeout", 5*time.Second)
}

// Load reads the configuration. path names a config file explicitly; when
// empty, config.yml is searched in ., ./configs and /etc/lc-interface-test
// and its absence is not an error. A .env file in the working directory is
// loaded into the environment first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load config: .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		v.AddConfigPath("/etc/lc-interface-test")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("load config: %w", err)
			}
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Simulation: v.GetBool("simulation"),
		LogLevel:   v.GetString("log_level"),
		GPIO: GPIOConfig{
			Chip: v.GetString("gpio.chip"),
			Pins: gpio.Pins{
				Raise:       v.GetInt("gpio.pin_raise"),
				Lower:       v.GetInt("gpio.pin_lower"),
				LedRaise:    v.GetInt("gpio.pin_led_raise"),
				LedLower:    v.GetInt("gpio.pin_led_lower"),
				StartButton: v.GetInt("gpio.pin_start_button"),
				StopButton:  v.GetInt("gpio.pin_stop_button"),
			},
			Polarity: gpio.Polarity{
				RelayActiveHigh: v.GetBool("gpio.relay_active_high"),
				LedActiveHigh:   v.GetBool("gpio.led_active_high"),
			},
			Debounce: v.GetDuration("gpio.debounce"),
		},
		Probes: ProbesConfig{
			W1Dir: v.GetString("probes.w1_dir"),
			IDs:   make(map[string]string),
		},
		Timing: TimingConfig{
			Tick:             v.GetDuration("timing.tick"),
			TempInterval:     v.GetDuration("timing.temp_interval"),
			SensorFaultAfter: v.GetDuration("timing.sensor_fault_after"),
			Heartbeat:        v.GetDuration("timing.heartbeat"),
		},
		Paths: PathsConfig{
			Settings:   v.GetString("paths.settings"),
			Email:      v.GetString("paths.email"),
			Counts:     v.GetString("paths.counts"),
			EventLog:   v.GetString("paths.event_log"),
			SessionLog: v.GetString("paths.session_log"),
			HistoryDB:  v.GetString("paths.history_db"),
		},
		MQTT: MQTTConfig{
			Broker:     v.GetString("mqtt.broker"),
			ClientID:   v.GetString("mqtt.client_id"),
			BufferSize: v.GetInt("mqtt.buffer_size"),
		},
		HTTP: HTTPConfig{Addr: v.GetString("http.addr")},
		Queue: QueueConfig{
			Size:         v.GetInt("queue.size"),
			Retries:      v.GetInt("queue.retries"),
			Backoff:      v.GetDuration("queue.backoff"),
			DrainTimeout: v.GetDuration("queue.drain_timeout"),
		},
	}
	for key, name := range ProbeKeys {
		if id := strings.TrimSpace(v.GetString("probes.ids." + key)); id != "" {
			cfg.Probes.IDs[name] = id
		}
	}
	return cfg
}

// Validate rejects intervals the control loop cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Timing.Tick <= 0:
		return fmt.Errorf("timing.tick must be positive, got %v", c.Timing.Tick)
	case c.Timing.TempInterval <= 0:
		return fmt.Errorf("timing.temp_interval must be positive, got %v", c.Timing.TempInterval)
	case c.Timing.SensorFaultAfter <= 0:
		return fmt.Errorf("timing.sensor_fault_after must be positive, got %v", c.Timing.SensorFaultAfter)
	case c.Timing.Heartbeat < 0:
		return fmt.Errorf("timing.heartbeat must not be negative, got %v", c.Timing.Heartbeat)
	case c.Queue.Size <= 0:
		return fmt.Errorf("queue.size must be positive, got %d", c.Queue.Size)
	case c.Queue.Retries < 0:
		return fmt.Errorf("queue.retries must not be negative, got %d", c.Queue.Retries)
	case !c.Simulation && c.GPIO.Chip == "":
		return errors.New("gpio.chip is required unless simulation is set")
	}
	return nil
}

// MissingProbeIDs lists probes without a configured 1-wire id, in display
// order.
func (c *Config) MissingProbeIDs() []string {
	var missing []string
	for _, name := range thermal.ProbeNames {
		if c.Probes.IDs[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
