// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/intel/devmem-migrate/pkg/cdm"
	"github.com/intel/devmem-migrate/pkg/config"
	"github.com/intel/devmem-migrate/pkg/instrumentation"
	logger "github.com/intel/devmem-migrate/pkg/log"
	_ "github.com/intel/devmem-migrate/pkg/log/klogcontrol"
	"github.com/intel/devmem-migrate/pkg/migrate"
	"github.com/intel/devmem-migrate/pkg/pidfile"
	"github.com/intel/devmem-migrate/pkg/version"

	_ "github.com/intel/devmem-migrate/pkg/metrics/register"
)

var log = logger.NewLogger("devmem-migrate")

// options are our command line options.
type options struct {
	configFile string
	pidFile    string
	cmds       string
	prompt     bool
	echo       bool
}

func exit(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "devmem-migrate: "+format+"\n", a...)
	logger.Flush()
	os.Exit(1)
}

func main() {
	opts := options{}
	flag.StringVar(&opts.configFile, "config", "", "-config=FILE load YAML configuration from FILE")
	flag.BoolVar(&opts.prompt, "prompt", false, "-prompt run interactive prompt after -c commands")
	flag.BoolVar(&opts.echo, "echo", false, "-echo echo commands read by the prompt")
	flag.StringVar(&opts.cmds, "c", "", "-c='CMD[; CMD...]' run semicolon-separated prompt commands")
	flag.StringVar(&opts.pidFile, "pidfile", "", "-pidfile=PATH PID file, empty for the default path")
	optDescribe := flag.Bool("describe", false, "-describe print configuration help and exit")

	flag.Parse()

	if *optDescribe {
		fmt.Println(config.Describe())
		os.Exit(0)
	}

	logger.SetupDebugToggleSignal(syscall.SIGUSR1)
	logger.SetStdLogger("stdlog")

	if err := run(opts, os.Stdin, os.Stdout); err != nil {
		exit("%v", err)
	}
	logger.Flush()
}

// run sets up the service and runs the prompt. Everything set up is torn
// down before run returns, on failure as well.
func run(opts options, in io.Reader, out io.Writer) error {
	if opts.configFile != "" {
		if err := config.SetYAMLFile(opts.configFile); err != nil {
			return errors.Wrapf(err, "failed to load configuration %q", opts.configFile)
		}
	}

	pid := pidfile.New(opts.pidFile)
	if err := pid.Write(); err != nil {
		return err
	}
	defer pid.Remove()

	log.Info("devmem-migrate %s starting...", version.String())

	if err := instrumentation.RegisterViews(migrate.Views()...); err != nil {
		return errors.Wrap(err, "failed to register views")
	}
	if err := instrumentation.Start(); err != nil {
		return errors.Wrap(err, "failed to start instrumentation")
	}
	defer instrumentation.Stop()

	svc, err := cdm.NewService()
	if err != nil {
		return errors.Wrap(err, "failed to set up device memory")
	}
	defer svc.Close()

	mux := instrumentation.GetHTTPMux()
	mux.Handle(cdm.StatusPath, svc)
	defer mux.Unregister(cdm.StatusPath)

	for _, dev := range svc.Registry().Devices() {
		log.Info("device %s", dev)
	}

	done := make(chan struct{})
	defer close(done)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received %v, shutting down...", sig)
			svc.Close()
			instrumentation.Stop()
			pid.Remove()
			logger.Flush()
			os.Exit(0)
		case <-done:
		}
	}()

	prompt := cdm.NewPrompt(svc, "devmem-migrate> ", bufio.NewReader(in), bufio.NewWriter(out))
	prompt.SetEcho(opts.echo)

	if opts.cmds != "" {
		for _, cmd := range strings.Split(opts.cmds, ";") {
			prompt.RunCmdString(strings.TrimSpace(cmd))
		}
	}
	if opts.prompt {
		prompt.Interact()
	}

	return nil
}
