package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ReplayConfig holds configuration for the replay command.
type ReplayConfig struct {
	Config
	In                string
	Receipts          string
	Failures          string
	FromSeq           uint64
	ToSeq             uint64
	BatchSize         uint64
	Checkpoint        string
	CheckpointEnabled bool
	SelectorMap       map[string]string
}

// LoadReplay merges config file, environment variables, and flags into ReplayConfig.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ReplayConfig{}, err
	}
	v.SetDefault("receipts", "./data/receipts.jsonl")
	v.SetDefault("failures", "./data/replay_failures.jsonl")
	v.SetDefault("batch-size", uint64(500))
	v.SetDefault("checkpoint", "./data/replay_checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)

	return ReplayConfig{
		Config:            fromViper(v),
		In:                v.GetString("in"),
		Receipts:          v.GetString("receipts"),
		Failures:          v.GetString("failures"),
		FromSeq:           v.GetUint64("from"),
		ToSeq:             v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		SelectorMap:       getStringMap(v, "selector-map"),
	}, nil
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

// parseStringMap reads "selector=method,selector=method".
func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
