// Copyright 2019 Intel Corporation. All Rights Reserved.
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

package log

var configHelp = `
Logging and debugging messages.

To control logging and debug messages include a logger fragment in the
configuration file. You can set the lowest severity of messages to pass
through, the logging backend, which log sources are enabled, and which
log sources produce debug messages.

The available severity levels are debug, info, warning and error. By default
all log sources are enabled and none of them produce debug messages. To pass
only warnings and errors through, and turn on debugging for the migrate and
cdm sources, use a fragment like this:

  logger:
    Level: warning
    Debug: migrate,cdm

Prefix a source or a list of sources with 'off:' or 'on:' to toggle them.
For instance, to debug everything except the address space:

  logger:
    Debug: on:*,off:addrspace

The same settings are available as the --logger-level, --logger-sources
and --logger-debug command line options. 'all' is an alias for '*'.
`
