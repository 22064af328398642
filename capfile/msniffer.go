/*
 *    NCShark core library for reconstructing encrypted game sessions
 *
 *    Copyright (C) 2014, 2015  David Stainton
 *
 *    This program is free software: you can redistribute it and/or modify
 *    it under the terms of the GNU General Public License as published by
 *    the Free Software Foundation, either version 3 of the License, or
 *    (at your option) any later version.
 *
 *    This program is distributed in the hope that it will be useful,
 *    but WITHOUT ANY WARRANTY; without even the implied warranty of
 *    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 *    GNU General Public License for more details.
 *
 *    You should have received a copy of the GNU General Public License
 *    along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package capfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNotMSnifferLine is returned for lines that do not hold a packet.
var ErrNotMSnifferLine = errors.New("not an MSniffer packet line")

var msnifferLine = regexp.MustCompile(`\[(.{1,2}):(.{1,2}):(.{1,2})\]\[(\d+)\] (Recv|Send):  (.+)`)

// MSniffer logs carry a time of day only.
var msnifferDate = time.Date(2012, time.October, 10, 0, 0, 0, 0, time.UTC)

// ParseMSnifferLine converts one line of an MSniffer text log, of the form
// "[hh:mm:ss][length] Send:  XX XX ...", into a record.  The length counts
// the opcode bytes.
func ParseMSnifferLine(line string) (Record, error) {
	match := msnifferLine.FindStringSubmatch(line)
	if match == nil {
		return Record{}, ErrNotMSnifferLine
	}
	var clock [3]int
	for i := range clock {
		v, err := strconv.Atoi(strings.TrimSpace(match[i+1]))
		if err != nil {
			return Record{}, fmt.Errorf("MSniffer time %q: %w", match[i+1], err)
		}
		clock[i] = v
	}
	length, err := strconv.Atoi(match[4])
	if err != nil {
		return Record{}, fmt.Errorf("MSniffer length %q: %w", match[4], err)
	}
	fields := strings.Fields(match[6])
	if length < 2 || len(fields) < length {
		return Record{}, fmt.Errorf("MSniffer line has %d bytes, header says %d: %w", len(fields), length, ErrTruncated)
	}
	data := make([]byte, length)
	for i := 0; i < length; i++ {
		v, err := strconv.ParseUint(fields[i], 16, 8)
		if err != nil {
			return Record{}, fmt.Errorf("MSniffer byte %d %q: %w", i, fields[i], err)
		}
		data[i] = byte(v)
	}
	timestamp := msnifferDate.Add(time.Duration(clock[0])*time.Hour +
		time.Duration(clock[1])*time.Minute +
		time.Duration(clock[2])*time.Second)
	return Record{
		Timestamp: timestamp,
		Outbound:  match[5] == "Send",
		Opcode:    uint16(data[0]) | uint16(data[1])<<8,
		Payload:   data[2:],
	}, nil
}

// ImportMSniffer collects the packet lines of an MSniffer log, skipping
// everything else.
func ImportMSniffer(r io.Reader) ([]Record, error) {
	records := []Record{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		record, err := ParseMSnifferLine(scanner.Text())
		if errors.Is(err, ErrNotMSnifferLine) {
			continue
		}
		if err != nil {
			return records, fmt.Errorf("line %d: %w", lineNumber, err)
		}
		records = append(records, record)
	}
	return records, scanner.Err()
}
