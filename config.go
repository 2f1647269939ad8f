package multiadc

import (
	"encoding"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/usnistgov/multiadc/converter"
	"github.com/usnistgov/multiadc/heartbeat"
	"gopkg.in/yaml.v3"
)

// AcquisitionConfig is the converter setup and buffer of one acquisition.
type AcquisitionConfig struct {
	Capacity      int                     `mapstructure:"capacity" yaml:"capacity"`
	Groups        []ConversionGroupConfig `mapstructure:"groups" yaml:"groups"`
	DisarmTimeout time.Duration           `mapstructure:"disarm_timeout" yaml:"disarm_timeout"`
	PollInterval  time.Duration           `mapstructure:"poll_interval" yaml:"poll_interval"`
	ConsumerPoll  time.Duration           `mapstructure:"consumer_poll" yaml:"consumer_poll"`
	StopOnFault   bool                    `mapstructure:"stop_on_fault" yaml:"stop_on_fault"` // end the run at the first overrun or fault
}

// ReportConfig says where completed regions go. Empty destinations are off.
type ReportConfig struct {
	Serial   string `mapstructure:"serial" yaml:"serial"`       // serial port name, or "-" for stdout
	BaudRate int    `mapstructure:"baud_rate" yaml:"baud_rate"` // serial only
	Format   string `mapstructure:"format" yaml:"format"`       // "text" or "binary"
	ZMQ      string `mapstructure:"zmq" yaml:"zmq"`             // PUB endpoint, e.g. tcp://*:5502
	ZMQTag   string `mapstructure:"zmq_tag" yaml:"zmq_tag"`
	NPY      string `mapstructure:"npy" yaml:"npy"` // capture file
	SourceID uint16 `mapstructure:"source_id" yaml:"source_id"`
}

// HeartbeatConfig drives the status LED. Pin < 0 logs instead of blinking.
type HeartbeatConfig struct {
	Period    time.Duration `mapstructure:"period" yaml:"period"`
	Pin       int           `mapstructure:"pin" yaml:"pin"`
	ActiveLow bool          `mapstructure:"active_low" yaml:"active_low"`
}

// SimulationConfig shapes the simulated converter block.
type SimulationConfig struct {
	CycleRate     float64 `mapstructure:"cycle_rate" yaml:"cycle_rate"` // conversion cycles per second
	DisarmLatency int     `mapstructure:"disarm_latency" yaml:"disarm_latency"`
}

// SessionConfig controls recording of acquisition sessions in ClickHouse.
// An empty user or password is read from MULTIADC_DB_USER or MULTIADC_DB_PASSWORD.
type SessionConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
}

// Config is the complete daemon configuration.
type Config struct {
	Acquisition AcquisitionConfig `mapstructure:"acquisition" yaml:"acquisition"`
	Report      ReportConfig      `mapstructure:"report" yaml:"report"`
	Heartbeat   HeartbeatConfig   `mapstructure:"heartbeat" yaml:"heartbeat"`
	Simulation  SimulationConfig  `mapstructure:"simulation" yaml:"simulation"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	MetricsAddr string            `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	Verbose     bool              `mapstructure:"verbose" yaml:"verbose"`
}

// DefaultCapacity holds two regions of two conversion cycles of the default groups.
const DefaultCapacity = 24

// DefaultGroups returns the board's standard setup: three converters in
// circular mode, two inputs each at 480 cycles, started by software.
func DefaultGroups() []ConversionGroupConfig {
	group := func(role Role, inputs ...uint8) ConversionGroupConfig {
		g := ConversionGroupConfig{Role: role, ChannelCount: len(inputs), Mode: Circular}
		for _, in := range inputs {
			g.Channels = append(g.Channels, ChannelSpec{Input: in, SampleTime: converter.Cycles480})
		}
		return g
	}
	master := group(Master, 0, 3)
	master.Trigger = &TriggerConfig{Source: SoftwareImmediate}
	return []ConversionGroupConfig{master, group(Slave, 1, 10), group(Slave, 2, 11)}
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() Config {
	return Config{
		Acquisition: AcquisitionConfig{
			Capacity:      DefaultCapacity,
			Groups:        DefaultGroups(),
			DisarmTimeout: DefaultDisarmTimeout,
			PollInterval:  DefaultPollInterval,
			ConsumerPoll:  DefaultPollPeriod,
		},
		Report: ReportConfig{
			Serial:   "-",
			BaudRate: 115200,
			Format:   "text",
			ZMQTag:   "adc",
		},
		Heartbeat:   HeartbeatConfig{Period: heartbeat.DefaultPeriod, Pin: -1},
		Simulation:  SimulationConfig{CycleRate: 1000},
		Session:     SessionConfig{Addr: "localhost:9000"},
		MetricsAddr: "localhost:5510",
	}
}

// numberToTextHookFunc lets numbers decode into TextUnmarshaler fields, so a
// sample time may be written as 480 as well as "480cycles".
func numberToTextHookFunc() mapstructure.DecodeHookFuncType {
	unmarshaler := reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
		default:
			return data, nil
		}
		if !reflect.PointerTo(to).Implements(unmarshaler) {
			return data, nil
		}
		v := reflect.New(to)
		if err := v.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(fmt.Sprint(data))); err != nil {
			return nil, err
		}
		return v.Elem().Interface(), nil
	}
}

// DecodeHook is the hook used to decode configuration values.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		numberToTextHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// LoadConfig decodes the settings held by v on top of DefaultConfig. A
// configuration listing no groups acquires the default ones.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	cfg.Acquisition.Groups = nil
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return Config{}, maskAny(err)
	}
	if len(cfg.Acquisition.Groups) == 0 {
		cfg.Acquisition.Groups = DefaultGroups()
	}
	if err := Validate(cfg.Acquisition.Groups, cfg.Acquisition.Capacity); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteYAML writes cfg in the format LoadConfig reads.
func (cfg Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return maskAny(err)
	}
	return maskAny(enc.Close())
}
