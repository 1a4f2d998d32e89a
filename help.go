// Copyright 2018 Tomas Machalek <tomas.machalek@gmail.com>
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

const helpText = `autofilter tails a fronting server's access log, aggregates
per-client request load in one-minute windows, and maintains a bot
artifact consumed by that server on reload.

Configuration is a plain-text file with two directive types:

    limit <entity> <request_count> <one_uri_count>
    block <entity> <duration>

where <entity> is an exact address, a CIDR, a two-letter country code, or
the literal ALL, and <duration> is an integer followed by 'h' or 'd'.
Either count may be the literal 'none' to disable that limit.

Example:

    # more generous limits for a trusted network
    limit 10.0.0.0/8   none   none
    limit CN           64     16
    block CN           2h
    limit ALL          128    32
    block ALL           1d
`
