// Copyright 2017 Tomas Machalek <tomas.machalek@gmail.com>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/makhomed/autofilter/config"
	"github.com/makhomed/autofilter/daemon"
	"github.com/makhomed/autofilter/logging"

	"github.com/rs/zerolog/log"
)

const (
	defaultConfigPath = "/opt/autofilter/autofilter.conf"
	defaultLogPath    = "/var/log/nginx/access.log"
	defaultBotPath    = "/opt/autofilter/var/bot.conf"
	defaultPIDPath    = "/var/run/nginx.pid"
	defaultAppLogPath = "/opt/autofilter/var/autofilter.log"
)

func main() {
	var (
		showHelp    bool
		showVersion bool
		dryRun      bool
		testConfig  bool
		configPath  string
		logPath     string
		botPath     string
		pidPath     string
		appLogPath  string
	)

	flag.BoolVar(&showHelp, "h", false, "print usage")
	flag.BoolVar(&showHelp, "help", false, "print usage")
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.BoolVar(&dryRun, "n", false, "dry run: detect and log, suppress store write and reload signal")
	flag.BoolVar(&dryRun, "dry-run", false, "dry run: detect and log, suppress store write and reload signal")
	flag.BoolVar(&testConfig, "t", false, "parse the configuration file and report success or failure")
	flag.BoolVar(&testConfig, "test-config", false, "parse the configuration file and report success or failure")
	flag.StringVar(&configPath, "config", defaultConfigPath, "path to the configuration file")
	flag.StringVar(&logPath, "log-file", defaultLogPath, "path to the fronting server's access log")
	flag.StringVar(&botPath, "bot-file", defaultBotPath, "path to the bot artifact consumed by the fronting server")
	flag.StringVar(&pidPath, "pid-file", defaultPIDPath, "path to the fronting server's PID file")
	flag.StringVar(&appLogPath, "app-log-file", defaultAppLogPath, "path to this daemon's own operational log")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "autofilter - automatic layer-7 abuse mitigation for a fronting server\n\nUsage:\n\t%s [options]\n\nOptions:\n",
			filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr)
		fmt.Fprint(os.Stderr, helpText)
	}
	flag.Parse()

	if showHelp {
		flag.Usage()
		return
	}
	if showVersion {
		fmt.Println(version)
		return
	}

	diag := logging.NewDiagnostics()

	if testConfig {
		if err := config.Validate(configPath); err != nil {
			diag.Error().Err(err).Str("path", configPath).Msg("configuration is invalid")
			os.Exit(1)
		}
		diag.Info().Str("path", configPath).Msg("configuration OK")
		return
	}

	logging.InitOperational(appLogPath, logging.ParseLevel("info"))
	tables := config.Load(configPath, &diag)

	d := daemon.New(daemon.Options{
		LogFilePath: logPath,
		BotFilePath: botPath,
		PIDFilePath: pidPath,
		Config:      tables,
		DryRun:      dryRun,
		Diag:        &diag,
	})

	if err := d.Run(); err != nil {
		log.Fatal().Err(err).Msg("daemon exited with an error")
	}
}
