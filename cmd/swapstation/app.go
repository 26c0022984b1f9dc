package main

import (
	"context"
	"errors"
	"fmt"

	"tinygo.org/x/bluetooth"

	"github.com/Njogu-Ndegwa/swapstation/internal/arbiter"
	"github.com/Njogu-Ndegwa/swapstation/internal/attendant"
	"github.com/Njogu-Ndegwa/swapstation/internal/binding"
	"github.com/Njogu-Ndegwa/swapstation/internal/broker"
	"github.com/Njogu-Ndegwa/swapstation/internal/discovery"
	"github.com/Njogu-Ndegwa/swapstation/internal/infrastructure/config"
	"github.com/Njogu-Ndegwa/swapstation/internal/infrastructure/influxdb"
	"github.com/Njogu-Ndegwa/swapstation/internal/infrastructure/logging"
	"github.com/Njogu-Ndegwa/swapstation/internal/infrastructure/mqtt"
	"github.com/Njogu-Ndegwa/swapstation/internal/radio"
	"github.com/Njogu-Ndegwa/swapstation/internal/radio/bluez"
)

// app holds the wired components. Fields a command did not ask for stay nil.
type app struct {
	cfg *config.Config
	log *logging.Logger

	mqtt      *mqtt.Client
	arbiter   *arbiter.Arbiter
	broker    *broker.Broker
	attendant *attendant.Service

	radio   radio.Radio
	scanner *discovery.Scanner
	machine *binding.Machine

	influx *influxdb.Client

	closers []func()
}

// wants selects which halves of the station a command needs.
type wants struct {
	bus   bool
	radio bool
}

func newApp(cfg *config.Config, log *logging.Logger, w wants) (*app, error) {
	a := &app{cfg: cfg, log: log}

	if err := a.startInflux(); err != nil {
		a.close()
		return nil, err
	}
	if w.bus {
		if err := a.startBus(); err != nil {
			a.close()
			return nil, err
		}
	}
	if w.radio {
		if err := a.startRadio(); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

// close runs shutdown hooks in reverse start order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) startInflux() error {
	if !a.cfg.InfluxDB.Enabled {
		a.log.Info("InfluxDB disabled")
		return nil
	}

	client, err := influxdb.Connect(a.cfg.InfluxDB, a.cfg.Station.ID)
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		a.log.Error("InfluxDB write error", "error", err)
	})
	a.influx = client
	a.closers = append(a.closers, func() {
		a.log.Info("closing InfluxDB connection")
		if err := client.Close(); err != nil {
			a.log.Error("error closing InfluxDB", "error", err)
		}
	})
	a.log.Info("InfluxDB connected",
		"url", a.cfg.InfluxDB.URL,
		"org", a.cfg.InfluxDB.Org,
		"bucket", a.cfg.InfluxDB.Bucket,
	)
	return nil
}

func (a *app) startBus() error {
	client, err := mqtt.Connect(a.cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(a.log.Component("mqtt"))
	client.SetOnConnect(func() {
		a.log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		a.log.Warn("MQTT disconnected", "error", err)
	})
	a.mqtt = client
	a.closers = append(a.closers, func() {
		a.log.Info("disconnecting from MQTT")
		if err := client.Close(); err != nil {
			a.log.Error("error closing MQTT", "error", err)
		}
	})
	a.log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", a.cfg.MQTT.Broker.Host, a.cfg.MQTT.Broker.Port),
		"client_id", a.cfg.MQTT.Broker.ClientID,
	)

	a.arbiter = arbiter.New(client)
	a.arbiter.SetLogger(a.log.Component("arbiter"))

	a.broker = broker.New(client, a.arbiter, brokerOptions(a.cfg))
	a.broker.SetLogger(a.log.Component("broker"))
	a.closers = append(a.closers, a.broker.Close)

	a.attendant = attendant.New(a.broker, a.arbiter, client, attendant.Config{
		Domain: a.cfg.Station.Domain,
		Role:   a.cfg.Station.Role,
		Actor:  broker.Actor{Type: a.cfg.Station.ActorType, ID: a.cfg.Station.ActorID},
	})
	a.attendant.SetLogger(a.log.Component("attendant"))
	return nil
}

func (a *app) startRadio() error {
	if a.cfg.Radio.Enabled {
		r, err := bluez.New(bluetooth.DefaultAdapter, a.cfg.Radio.Services)
		if err != nil {
			return fmt.Errorf("configuring radio: %w", err)
		}
		r.SetLogger(a.log.Component("radio"))
		if err := r.Enable(); err != nil {
			return fmt.Errorf("enabling radio: %w", err)
		}
		a.radio = r
		a.log.Info("radio enabled", "services", len(a.cfg.Radio.Services))
	} else {
		a.radio = radio.Disabled{}
		a.log.Warn("radio disabled, binding will fail")
	}

	a.scanner = discovery.NewScanner(a.radio, a.cfg.Discovery.NamePrefix)
	a.scanner.SetLogger(a.log.Component("discovery"))

	a.machine = binding.New(a.radio, a.scanner, bindingOptions(a.cfg))
	a.machine.SetLogger(a.log.Component("binding"))
	a.machine.Matcher().SetLogger(a.log.Component("discovery"))
	if a.influx != nil {
		a.machine.SetSink(a.influx)
	}
	a.radio.SetHandler(a.machine.Handler())

	a.closers = append(a.closers, func() {
		if err := a.machine.Cancel(); err != nil && !errors.Is(err, binding.ErrNoSession) {
			a.log.Warn("binding session still running at shutdown", "error", err)
		}
		if err := a.scanner.Stop(); err != nil {
			a.log.Warn("error stopping scan", "error", err)
		}
	})
	return nil
}

// healthCheck verifies the connections a long-running station relies on.
func (a *app) healthCheck(ctx context.Context) error {
	if a.mqtt != nil {
		if err := a.mqtt.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if a.influx != nil {
		if err := a.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

func brokerOptions(cfg *config.Config) broker.Options {
	return broker.Options{
		QoS:         byte(cfg.MQTT.QoS), // #nosec G115 -- validated to 0..2
		Timeout:     cfg.Broker.Timeout,
		SettleDelay: cfg.Broker.SettleDelay,
		Retry: broker.RetryPolicy{
			Attempts: cfg.Broker.RetryAttempts,
			Delay:    cfg.Broker.RetryDelay,
		},
	}
}

func bindingOptions(cfg *config.Config) binding.Options {
	return binding.Options{
		ConnectRetries:     cfg.Binding.ConnectRetries,
		ConnectBackoffUnit: cfg.Binding.ConnectBackoffUnit,
		ReadRetries:        cfg.Binding.ReadRetries,
		ReadRetryDelay:     cfg.Binding.ReadRetryDelay,
		GlobalTimeout:      cfg.Binding.GlobalTimeout,
		Service:            cfg.Binding.TelemetryService,
		MatchSchedule:      cfg.Discovery.MatchSchedule,
		MatchAttempts:      cfg.Discovery.MatchAttempts,
	}
}
