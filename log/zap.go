package log

import (
	"errors"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	STDOUT     bool   // stdout
	File       string // log file path, no file when empty
	Level      int8   // debug -1 | info 0 (default) | warn 1 | error 2
	MaxAge     int    // days
	MaxSize    int    // megabytes
	MaxBackups int
	Compress   bool
	JsonFormat bool

	// SampleFirst and SampleThereafter bound identical messages per second:
	// the first SampleFirst are written, then one in every SampleThereafter.
	// Sampling is off when SampleFirst is zero.
	SampleFirst      int
	SampleThereafter int
}

var (
	Logger = zap.NewNop()
	Sugar  = Logger.Sugar()

	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// GetSN tags an entry with the serial number of the datagram it is about.
func GetSN(sn uint64) zap.Field {
	return zap.Uint64("SN", sn)
}

func Init(config Config) error {

	ws, err := newWriteSyncer(config)
	if err != nil {
		return err
	}

	SetLevel(config.Level)

	core := zapcore.NewCore(newEncoder(config.JsonFormat), ws, level)
	if config.SampleFirst > 0 {
		core = zapcore.NewSamplerWithOptions(core, time.Second, config.SampleFirst, config.SampleThereafter)
	}

	Logger = zap.New(core, zap.AddCaller())
	Sugar = Logger.Sugar()

	return nil
}

// SetLevel changes the level of the logger built by Init, also while it is in
// use. Unknown levels become info.
func SetLevel(l int8) {
	switch zapcore.Level(l) {
	case zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel:
	default:
		l = int8(zapcore.InfoLevel)
	}
	level.SetLevel(zapcore.Level(l))
}

func Level() int8 {
	return int8(level.Level())
}

func Sync() {
	_ = Logger.Sync()
}

func newWriteSyncer(config Config) (zapcore.WriteSyncer, error) {
	var wss []zapcore.WriteSyncer

	if len(config.File) > 0 {
		wss = append(wss, zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSize,
			MaxAge:     config.MaxAge,
			MaxBackups: config.MaxBackups,
			Compress:   config.Compress,
		}))
	}

	if config.STDOUT {
		wss = append(wss, zapcore.AddSync(os.Stdout))
	}

	if len(wss) == 0 {
		return nil, errors.New("write syncer needed")
	}

	return zapcore.NewMultiWriteSyncer(wss...), nil
}

func newEncoder(json bool) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	if json {
		return zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewConsoleEncoder(cfg)
}
