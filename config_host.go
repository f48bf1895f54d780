//go:build !tinygo

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"bedrock/app"
	"bedrock/arena"
	"bedrock/hal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "BEDROCK"

func addFlags(cmd *cobra.Command) {
	l := arena.DefaultLayout()
	f := cmd.Flags()
	f.String("config", "", "Config file (toml, yaml or json).")
	f.String("env-file", ".env", "Dotenv file loaded before reading BEDROCK_* variables.")
	f.String("transport", "tcp", "Network backend: tcp or sim.")
	f.String("host", "127.0.0.1", "Interface listeners bind to and the simulated host address.")
	f.Int("sim-chunk", 0, "Max bytes per read/write call on the simulated network (0 = no cap).")
	f.StringArray("thread", nil, "Scenario line, repeatable (default: built-in echo/ping scenario).")
	f.String("scenario", "", "File with one scenario line per thread.")
	f.Int("data-words", l.DataWords, "Arena data region size (words).")
	f.Int("stack-words", l.StackWords, "Stack slot size (words).")
	f.Int("threads", l.Threads, "Thread slots.")
	f.Bool("debug", false, "Log scheduler lifecycle events.")
}

// loadConfig layers flags over BEDROCK_* environment variables over the
// config file.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (hal.HostConfig, app.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return hal.HostConfig{}, app.Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range []string{"config", "transport", "host", "sim-chunk", "scenario", "data-words", "stack-words", "threads", "debug"} {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return hal.HostConfig{}, app.Config{}, err
		}
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return hal.HostConfig{}, app.Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	hostCfg := hal.HostConfig{
		SimNet: hal.SimConfig{Host: v.GetString("host"), MaxChunk: v.GetInt("sim-chunk")},
		TCP:    hal.HostNetConfig{Host: v.GetString("host")},
	}
	switch t := v.GetString("transport"); t {
	case "tcp":
	case "sim":
		hostCfg.Sim = true
	default:
		return hal.HostConfig{}, app.Config{}, fmt.Errorf("unknown transport %q", t)
	}

	text, err := scenarioText(cmd, v)
	if err != nil {
		return hal.HostConfig{}, app.Config{}, err
	}
	threads, err := app.ParseScenario(text)
	if err != nil {
		return hal.HostConfig{}, app.Config{}, err
	}

	appCfg := app.Config{
		Layout: arena.Layout{
			DataWords:  v.GetInt("data-words"),
			StackWords: v.GetInt("stack-words"),
			Threads:    v.GetInt("threads"),
		},
		Debug:   v.GetBool("debug"),
		Threads: threads,
	}
	if err := appCfg.Layout.Validate(); err != nil {
		return hal.HostConfig{}, app.Config{}, err
	}
	return hostCfg, appCfg, nil
}

// scenarioText picks the scenario from --thread flags, then the "thread"
// setting (a list in the config file, or ;-separated lines in
// BEDROCK_THREAD), then --scenario, then the built-in default.
func scenarioText(cmd *cobra.Command, v *viper.Viper) (string, error) {
	if lines, _ := cmd.Flags().GetStringArray("thread"); len(lines) > 0 {
		return strings.Join(lines, "\n"), nil
	}
	switch t := v.Get("thread").(type) {
	case []any:
		lines := make([]string, len(t))
		for i, l := range t {
			lines[i] = fmt.Sprint(l)
		}
		return strings.Join(lines, "\n"), nil
	case string:
		if t != "" {
			return strings.ReplaceAll(t, ";", "\n"), nil
		}
	}
	if path := v.GetString("scenario"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read scenario: %w", err)
		}
		return string(b), nil
	}
	return app.DefaultScenario, nil
}
