// Package device emulates the remote sensor board for local runs: it
// publishes a wandering temperature and answers LED commands with the LED
// state it ends up in.
package device

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/sweeney/telemetry-bridge/internal/logic"
	"github.com/sweeney/telemetry-bridge/internal/mqtt"
)

// Client is the MQTT surface the simulator needs.
type Client interface {
	mqtt.Publisher
	mqtt.Subscriber
}

// Identity describes the emulated board. It only appears in logs.
type Identity struct {
	Serial   string `fake:"{uuid}"`
	Firmware string `fake:"{appversion}"`
	Location string `fake:"{city}"`
}

// Options configures a Simulator.
type Options struct {
	TemperatureTopic string
	LedTopic         string
	CommandTopic     string

	Interval time.Duration
	// Start is the first temperature; Step bounds each random move.
	Start float64
	Step  float64
	// Seed makes the walk reproducible. Zero picks a random seed.
	Seed uint64

	Logger *zap.Logger
}

// walk bounds keep the emulated sensor well inside its valid range.
const (
	walkMin = -10.0
	walkMax = 60.0
)

// Simulator is an emulated device.
type Simulator struct {
	client Client
	opts   Options
	faker  *gofakeit.Faker
	logger *zap.Logger
	id     Identity

	mu   sync.Mutex
	temp float64
	led  logic.LedState
}

// New returns a Simulator publishing through client and subscribes it to
// the command topic.
func New(client Client, opts Options) *Simulator {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Step <= 0 {
		opts.Step = 0.8
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Simulator{
		client: client,
		opts:   opts,
		faker:  gofakeit.New(opts.Seed),
		logger: opts.Logger,
		temp:   clamp(opts.Start),
	}
	if err := s.faker.Struct(&s.id); err != nil {
		s.logger.Warn("device identity not generated", zap.Error(err))
	}
	client.Handle(opts.CommandTopic, s.onCommand)
	return s
}

// Identity returns the emulated board's identity.
func (s *Simulator) Identity() Identity {
	return s.id
}

// Led returns the emulated LED state.
func (s *Simulator) Led() logic.LedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.led
}

// Step moves the temperature once and publishes it.
func (s *Simulator) Step() (float64, error) {
	s.mu.Lock()
	s.temp = clamp(s.temp + s.faker.Float64Range(-s.opts.Step, s.opts.Step))
	t := math.Round(s.temp*100) / 100
	s.mu.Unlock()

	return t, s.client.Publish(s.opts.TemperatureTopic, []byte(strconv.FormatFloat(t, 'f', 2, 64)))
}

// Run publishes a reading every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info("device simulator started",
		zap.String("serial", s.id.Serial),
		zap.String("firmware", s.id.Firmware),
		zap.String("location", s.id.Location),
		zap.Duration("interval", s.opts.Interval))

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		t, err := s.Step()
		if err != nil {
			s.logger.Warn("temperature publish failed", zap.Error(err))
		} else {
			s.logger.Debug("temperature published", zap.Float64("temperature", t))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// onCommand applies an actuator command and confirms the resulting LED
// state on the LED topic.
func (s *Simulator) onCommand(payload []byte, _ time.Time) {
	var led logic.LedState
	switch logic.Command(payload) {
	case logic.CommandOn:
		led = logic.LedOn
	case logic.CommandOff:
		led = logic.LedOff
	default:
		s.logger.Warn("unknown command", zap.ByteString("payload", payload))
		return
	}

	s.mu.Lock()
	s.led = led
	s.mu.Unlock()

	if err := s.client.Publish(s.opts.LedTopic, []byte(strconv.Itoa(int(led)))); err != nil {
		s.logger.Warn("led confirmation failed", zap.Error(err))
	}
}

func clamp(t float64) float64 {
	return math.Max(walkMin, math.Min(walkMax, t))
}
