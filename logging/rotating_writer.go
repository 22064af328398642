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

package logging

import (
	"errors"
	"fmt"
	"os"
)

var ErrQuota = errors.New("rotating writer: log size smaller than a single write")

// RotatingQuotaWriter is an io.WriteCloser that spreads its output over at
// most numLogs files named filename, filename.1 ... so that no more than
// the quota is kept on disk.
type RotatingQuotaWriter struct {
	filename   string
	fp         *os.File
	numLogs    int
	logSize    int
	written    int
	headerFunc func() error
	inHeader   bool
}

// NewRotatingQuotaWriter takes a starting filename and a quota size in
// megabytes.  headerFunc is run against each new file, after each
// rotation, and may itself write to the RotatingQuotaWriter.
func NewRotatingQuotaWriter(filename string, quotaSize int, numLogs int, headerFunc func() error) *RotatingQuotaWriter {
	if numLogs < 1 {
		numLogs = 1
	}
	return NewRotatingWriterBytes(filename, quotaSize*1024*1024, numLogs, headerFunc)
}

// NewRotatingWriterBytes is NewRotatingQuotaWriter with the quota given
// in bytes.
func NewRotatingWriterBytes(filename string, quotaBytes int, numLogs int, headerFunc func() error) *RotatingQuotaWriter {
	return &RotatingQuotaWriter{
		filename:   filename,
		numLogs:    numLogs,
		logSize:    quotaBytes / numLogs,
		headerFunc: headerFunc,
	}
}

func (w *RotatingQuotaWriter) open() error {
	fp, err := os.Create(w.filename)
	if err != nil {
		return err
	}
	w.fp = fp
	w.written = 0
	if w.headerFunc == nil {
		return nil
	}
	w.inHeader = true
	defer func() { w.inHeader = false }()
	return w.headerFunc()
}

func (w *RotatingQuotaWriter) Write(output []byte) (int, error) {
	if w.inHeader {
		n, err := w.fp.Write(output)
		w.written += n
		return n, err
	}
	if w.fp == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	} else if w.logSize > 0 && w.written+len(output) > w.logSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	if w.logSize > 0 && w.written+len(output) > w.logSize {
		return 0, ErrQuota
	}
	n, err := w.fp.Write(output)
	w.written += n
	return n, err
}

func (w *RotatingQuotaWriter) Close() error {
	if w.fp == nil {
		return nil
	}
	err := w.fp.Close()
	w.fp = nil
	return err
}

func (w *RotatingQuotaWriter) rotate() error {
	if err := w.Close(); err != nil {
		return err
	}
	if w.numLogs == 1 {
		return os.Remove(w.filename)
	}
	for i := w.numLogs - 1; i > 0; i-- {
		if err := w.shiftLog(i); err != nil {
			return err
		}
	}
	return os.Rename(w.filename, fmt.Sprintf("%s.1", w.filename))
}

// shiftLog moves filename.N to filename.N+1, dropping the oldest log.
func (w *RotatingQuotaWriter) shiftLog(logNum int) error {
	oldName := fmt.Sprintf("%s.%d", w.filename, logNum)
	if logNum == w.numLogs-1 {
		err := os.Remove(oldName)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	_, err := os.Stat(oldName)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	return os.Rename(oldName, fmt.Sprintf("%s.%d", w.filename, logNum+1))
}
