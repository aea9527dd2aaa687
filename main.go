package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/treemana/godns/log"
	"github.com/treemana/godns/ratelimit"
	"github.com/treemana/godns/udp"
	"github.com/treemana/godns/upstream"
	"github.com/treemana/godns/worker"
)

const (
	configFile = "godns.json"
	configEnv  = "GODNS_CONFIG"
	envPrefix  = "GODNS"
)

// Option is read from the config file, then environment variables named
// GODNS_<SECTION>_<FIELD> override it, e.g. GODNS_SERVER_PORT.
type Option struct {
	Log struct {
		File    string `json:"file"`
		STDOUT  bool   `json:"stdout"`
		Verbose bool   `json:"verbose"`
		// Sample limits repeated messages to 100 a second, then one in 100
		Sample bool `json:"sample"`
	} `json:"log"`

	Server struct {
		Address        string `json:"address"`
		Port           int    `json:"port"`
		ControlMessage bool   `json:"control_message" split_words:"true"`
	} `json:"server"`

	// Upstream resolver ip:port
	Upstream string `json:"upstream"`

	// Probe upstream once at start up, a failure is only logged
	Probe bool `json:"probe"`

	// Workers size of the worker pool
	Workers int `json:"workers"`

	// CleanInterval number of seconds between cache cleans,
	// expired entries are kept if zero
	CleanInterval uint64 `json:"clean_interval" split_words:"true"`

	// Rate limits forwards to upstream, unlimited if Limit is zero
	Rate struct {
		Limit float64 `json:"limit"`
		Burst int     `json:"burst"`
	} `json:"rate"`
}

func defaultOption() Option {
	var option Option
	option.Log.STDOUT = true
	option.Server.Address = udp.DefaultAddress
	option.Server.Port = udp.DefaultPort
	option.Upstream = upstream.DefaultAddress
	option.Probe = true
	option.Workers = 10
	return option
}

func loadOption() (Option, error) {
	option := defaultOption()

	path := os.Getenv(configEnv)
	if len(path) == 0 {
		path = configFile
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err = json.Unmarshal(raw, &option); err != nil {
			return option, fmt.Errorf("config [%s] unmarshal error=[%w]", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	default:
		return option, fmt.Errorf("config [%s] read error=[%w]", path, err)
	}

	if err = envconfig.Process(envPrefix, &option); err != nil {
		return option, fmt.Errorf("config environment error=[%w]", err)
	}

	return option, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {

	option, err := loadOption()
	if err != nil {
		return err
	}

	// init log
	if err = initLog(option); err != nil {
		return err
	}
	defer log.Sync()

	raw, _ := json.Marshal(option)
	log.Sugar.Infof("option %s", raw)

	pool := worker.NewPool()
	if err = pool.Start(option.Workers); err != nil {
		log.Sugar.Errorf("worker pool start error=[%+v]", err)
		return err
	}
	defer pool.Shutdown()

	var up *upstream.UpStream
	if up, err = upstream.New(option.Upstream); err != nil {
		log.Sugar.Error(err)
		return err
	}

	if option.Probe {
		probe(up)
	}

	var server *udp.Server
	if server, err = udp.New(newServerConfig(option, up), pool); err != nil {
		log.Sugar.Errorf("server init error=[%+v]", err)
		return err
	}

	server.Start()

	// godns is running until os exit, SIGUSR1 toggles debug logs
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	for s := range sc {
		log.Sugar.Infof("signal %d %s", s, s)
		if s == syscall.SIGUSR1 {
			toggleDebug()
			continue
		}
		break
	}

	server.Stop()
	return nil
}

func toggleDebug() {
	if log.Level() < 0 {
		log.SetLevel(0)
	} else {
		log.SetLevel(-1)
	}
	log.Sugar.Infof("log level %d", log.Level())
}

func initLog(option Option) error {
	lc := log.Config{
		File:       option.Log.File,
		STDOUT:     option.Log.STDOUT,
		MaxAge:     2,
		MaxSize:    10,
		MaxBackups: 100,
	}

	if option.Log.Verbose {
		lc.Level = -1
	}

	if option.Log.Sample {
		lc.SampleFirst = 100
		lc.SampleThereafter = 100
	}

	if err := log.Init(lc); err != nil {
		return fmt.Errorf("log init error=[%w]", err)
	}

	return nil
}

func newServerConfig(option Option, up *upstream.UpStream) udp.Config {
	return udp.Config{
		Address:        option.Server.Address,
		Port:           option.Server.Port,
		Upstream:       up,
		CleanInterval:  time.Second * time.Duration(option.CleanInterval),
		Limiter:        ratelimit.New(option.Rate.Limit, option.Rate.Burst),
		ControlMessage: option.Server.ControlMessage,
	}
}

func probe(up *upstream.UpStream) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rtt, err := up.Probe(ctx)
	if err != nil {
		log.Sugar.Warnf("upstream %s unreachable, error=[%+v]", up, err)
		return
	}

	log.Sugar.Infof("upstream %s reachable, rtt %s", up, rtt)
}
