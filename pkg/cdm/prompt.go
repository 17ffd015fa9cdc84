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

// This file implements interactive prompt and command execution.

package cdm

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"

	"github.com/intel/devmem-migrate/pkg/config"
	"github.com/intel/devmem-migrate/pkg/migrate"
	"github.com/intel/devmem-migrate/pkg/utils"
)

// Cmd is a prompt command.
type Cmd struct {
	description string
	Run         func([]string) CommandStatus
}

// Prompt reads and runs commands against a Service.
type Prompt struct {
	r    *bufio.Reader
	w    *bufio.Writer
	f    *flag.FlagSet
	svc  *Service
	cmds map[string]Cmd
	ps1  string
	echo bool
	quit bool
}

// CommandStatus is the status of a command run.
type CommandStatus int

const (
	csOk CommandStatus = iota
	csUnknownCommand
	csPipeCreateError
	csPipeProcessStartError
	csError
)

// NewPrompt creates a prompt for the service.
func NewPrompt(svc *Service, ps1 string, reader *bufio.Reader, writer *bufio.Writer) *Prompt {
	p := Prompt{
		r:   reader,
		w:   writer,
		ps1: ps1,
		svc: svc,
	}
	p.cmds = map[string]Cmd{
		"q":       {"quit interactive prompt.", p.cmdQuit},
		"help":    {"print help.", p.cmdHelp},
		"nop":     {"no operation.", p.cmdNop},
		"devices": {"list coherent device memory devices.", p.cmdDevices},
		"pools":   {"list page pools and their usage.", p.cmdPools},
		"map":     {"map a new region.", p.cmdMap},
		"unmap":   {"unmap a region.", p.cmdUnmap},
		"regions": {"list regions and where their pages reside.", p.cmdRegions},
		"lock":    {"lock/unlock a region.", p.cmdLock},
		"write":   {"write data to memory.", p.cmdWrite},
		"read":    {"read and dump memory.", p.cmdRead},
		"pin":     {"pin/unpin a page.", p.cmdPin},
		"migrate": {"migrate pages to a device or back to system memory.", p.cmdMigrate},
		"stats":   {"print migration statistics.", p.cmdStats},
		"config":  {"print or change configuration.", p.cmdConfig},
	}
	return &p
}

func (p *Prompt) output(format string, a ...interface{}) {
	if p.w == nil {
		return
	}
	p.w.WriteString(fmt.Sprintf(format, a...))
	p.w.Flush()
}

// RunCmdSlice runs the command and arguments in cmdSlice.
func (p *Prompt) RunCmdSlice(cmdSlice []string) CommandStatus {
	if len(cmdSlice) == 0 {
		return csOk
	}
	if cmdSlice[0] == "" {
		cmdSlice[0] = "nop"
	}
	p.f = flag.NewFlagSet(cmdSlice[0], flag.ContinueOnError)
	if p.w != nil {
		p.f.SetOutput(p.w)
	}
	cmd, ok := p.cmds[cmdSlice[0]]
	if !ok {
		p.output("unknown command %q\n", cmdSlice[0])
		return csUnknownCommand
	}
	return cmd.Run(cmdSlice[1:])
}

// RunCmdString runs a command line. Output of a command followed by
// "| shell-command" is piped to the shell command.
func (p *Prompt) RunCmdString(cmdString string) CommandStatus {
	origOutputWriter := p.w
	pipeCmd := ""
	if pipeIndex := strings.Index(cmdString, "|"); pipeIndex > -1 {
		pipeCmd = cmdString[pipeIndex+1:]
		cmdString = cmdString[:pipeIndex]
	}
	cmdSlice := strings.Fields(cmdString)
	if len(cmdSlice) == 0 {
		cmdSlice = []string{""}
	}

	var (
		pipeProcess *exec.Cmd
		pipeInput   io.WriteCloser
		err         error
	)
	if pipeCmd != "" {
		pipeProcess = exec.Command("sh", "-c", pipeCmd)
		pipeInput, err = pipeProcess.StdinPipe()
		if err != nil {
			p.output("failed to create pipe for command %q\n", pipeCmd)
			return csPipeCreateError
		}
		pipeProcess.Stdout = origOutputWriter
		pipeProcess.Stderr = origOutputWriter
		if err := pipeProcess.Start(); err != nil {
			p.output("failed to start: sh -c %q: %s\n", pipeCmd, err)
			pipeInput.Close()
			return csPipeProcessStartError
		}
		p.w = bufio.NewWriter(pipeInput)
	}

	status := p.RunCmdSlice(cmdSlice)

	if pipeCmd != "" {
		p.w.Flush()
		pipeInput.Close()
		pipeProcess.Wait()
		p.w = origOutputWriter
		p.w.Flush()
	}
	return status
}

// Interact reads and runs commands until quit or end of input.
func (p *Prompt) Interact() {
	for !p.quit {
		p.output(p.ps1)
		cmdString, err := p.r.ReadString(byte('\n'))
		if err != nil {
			p.output("quit: %s\n", err)
			break
		}
		if p.echo {
			p.output("%s", cmdString)
		}
		p.RunCmdString(cmdString)
	}
	p.output("quit.\n")
}

// SetEcho enables or disables echoing commands read by Interact.
func (p *Prompt) SetEcho(newEcho bool) {
	p.echo = newEcho
}

func sortedStringKeys(m map[string]Cmd) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedResidency(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]string, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, fmt.Sprintf("%s:%d", k, m[k]))
	}
	if len(entries) == 0 {
		return "-"
	}
	return strings.Join(entries, ",")
}

func (p *Prompt) cmdNop(args []string) CommandStatus {
	return csOk
}

func (p *Prompt) cmdQuit(args []string) CommandStatus {
	p.quit = true
	return csOk
}

func (p *Prompt) cmdHelp(args []string) CommandStatus {
	p.output("Available commands:\n")
	for _, name := range sortedStringKeys(p.cmds) {
		p.output("        %-12s %s\n", name, p.cmds[name].description)
	}
	p.output("Syntax:\n")
	p.output("        <command> -h show help on command options.\n")
	p.output("        [command] | <shell-command>\n")
	p.output("                     pipe command output to shell-command.\n")
	p.output("Addresses accept 0x prefixes, sizes k, M and G suffixes.\n")
	return csOk
}

func (p *Prompt) cmdDevices(args []string) CommandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	devices := p.svc.Registry().Devices()
	if len(devices) == 0 {
		p.output("no devices\n")
		return csOk
	}
	for _, dev := range devices {
		pool := dev.Pool()
		p.output("%s: %d/%d pages in use\n", dev, pool.Used(), pool.Pages())
	}
	return csOk
}

func (p *Prompt) cmdPools(args []string) CommandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	for _, pool := range p.svc.Memory().Pools() {
		p.output("%s: used %d free %d\n", pool, pool.Used(), pool.Free())
	}
	return csOk
}

func (p *Prompt) cmdMap(args []string) CommandStatus {
	name := p.f.String("name", "anon", "name of the region")
	start := p.f.String("start", "", "start address of the region")
	size := p.f.String("size", "", "size of the region")
	huge := p.f.Bool("huge", false, "map the region with huge pages")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	addr, err := utils.ParseUint(*start)
	if err != nil {
		p.output("invalid -start: %v\n", err)
		return csError
	}
	bytes, err := utils.ParseBytes(*size)
	if err != nil {
		p.output("invalid -size: %v\n", err)
		return csError
	}
	r, err := p.svc.Space().Map(*name, addr, int(uint64(bytes)/migrate.PageSize), *huge)
	if err != nil {
		p.output("map failed: %v\n", err)
		return csError
	}
	p.output("mapped %s\n", r)
	return csOk
}

func (p *Prompt) cmdUnmap(args []string) CommandStatus {
	start := p.f.String("start", "", "start address of the region")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	addr, err := utils.ParseUint(*start)
	if err != nil {
		p.output("invalid -start: %v\n", err)
		return csError
	}
	if err := p.svc.Space().Unmap(addr); err != nil {
		p.output("unmap failed: %v\n", err)
		return csError
	}
	return csOk
}

func (p *Prompt) cmdRegions(args []string) CommandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	space := p.svc.Space()
	for _, r := range space.Regions() {
		p.output("%s resident %s\n", r, sortedResidency(space.Residency(r)))
	}
	return csOk
}

func (p *Prompt) cmdLock(args []string) CommandStatus {
	start := p.f.String("start", "", "start address of the region")
	unlock := p.f.Bool("off", false, "unlock the region")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	addr, err := utils.ParseUint(*start)
	if err != nil {
		p.output("invalid -start: %v\n", err)
		return csError
	}
	if err := p.svc.Space().SetLocked(addr, !*unlock); err != nil {
		p.output("lock failed: %v\n", err)
		return csError
	}
	return csOk
}

func (p *Prompt) cmdWrite(args []string) CommandStatus {
	at := p.f.String("addr", "", "address to write to")
	data := p.f.String("data", "", "string to write")
	fill := p.f.Int("fill", -1, "fill with BYTE instead of writing a string")
	length := p.f.String("len", "", "number of bytes to fill")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	addr, err := utils.ParseUint(*at)
	if err != nil {
		p.output("invalid -addr: %v\n", err)
		return csError
	}
	buf := []byte(*data)
	if *fill >= 0 {
		n, err := utils.ParseBytes(*length)
		if err != nil {
			p.output("invalid -len: %v\n", err)
			return csError
		}
		buf = make([]byte, n)
		for i := range buf {
			buf[i] = byte(*fill)
		}
	}
	if err := p.svc.Space().Write(addr, buf); err != nil {
		p.output("write failed: %v\n", err)
		return csError
	}
	p.output("wrote %d bytes at 0x%x\n", len(buf), addr)
	return csOk
}

func (p *Prompt) cmdRead(args []string) CommandStatus {
	at := p.f.String("addr", "", "address to read from")
	length := p.f.String("len", "64", "number of bytes to read")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	addr, err := utils.ParseUint(*at)
	if err != nil {
		p.output("invalid -addr: %v\n", err)
		return csError
	}
	n, err := utils.ParseBytes(*length)
	if err != nil {
		p.output("invalid -len: %v\n", err)
		return csError
	}
	data, err := p.svc.Space().Read(addr, int(n))
	if err != nil {
		p.output("read failed: %v\n", err)
		return csError
	}
	p.output("%s", hex.Dump(data))
	return csOk
}

func (p *Prompt) cmdPin(args []string) CommandStatus {
	at := p.f.String("addr", "", "address of the page")
	unpin := p.f.Bool("off", false, "unpin the page")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	addr, err := utils.ParseUint(*at)
	if err != nil {
		p.output("invalid -addr: %v\n", err)
		return csError
	}
	if *unpin {
		err = p.svc.Space().Unpin(addr)
	} else {
		err = p.svc.Space().Pin(addr)
	}
	if err != nil {
		p.output("pin failed: %v\n", err)
		return csError
	}
	return csOk
}

func (p *Prompt) cmdMigrate(args []string) CommandStatus {
	at := p.f.String("addr", "", "start address of the range")
	pages := p.f.Int("pages", 1, "number of pages to migrate")
	to := p.f.String("to", "", "migrate to DEVICE index or "+SystemName)
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	addr, err := utils.ParseUint(*at)
	if err != nil {
		p.output("invalid -addr: %v\n", err)
		return csError
	}

	ctx := context.Background()
	switch {
	case *to == SystemName:
		err = p.svc.MigrateBack(ctx, addr, *pages)
	case *to == "":
		p.output("missing -to=DEVICE|%s\n", SystemName)
		return csError
	default:
		var index uint64
		index, err = utils.ParseUint(strings.TrimPrefix(*to, DevicePrefix))
		if err != nil {
			p.output("invalid -to: %v\n", err)
			return csError
		}
		err = p.svc.Migrate(ctx, int(index), addr, *pages)
	}
	if err != nil {
		p.output("migration failed: %v\n", err)
		return csError
	}
	p.output("migrated %d pages at 0x%x\n", *pages, addr)
	return csOk
}

func (p *Prompt) cmdStats(args []string) CommandStatus {
	reset := p.f.Bool("reset", false, "reset statistics")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if *reset {
		migrate.GetStats().Reset()
		return csOk
	}
	p.output("%s\n", migrate.GetStats().Summarize())
	return csOk
}

func (p *Prompt) cmdConfig(args []string) CommandStatus {
	describe := p.f.Bool("describe", false, "describe configuration options")
	file := p.f.String("load", "", "load configuration from YAML FILE")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if *describe {
		p.output("%s", config.Describe(p.f.Args()...))
		return csOk
	}
	if *file != "" {
		if err := config.SetYAMLFile(*file); err != nil {
			p.output("failed to load configuration: %v\n", err)
			return csError
		}
	}
	p.output("%s\n", config.GetData())
	return csOk
}
