package logging

import (
	"net"

	"github.com/ncshark/ncshark/types"
)

type TestSignalWriter struct {
	lastWrite  []byte
	signalChan chan bool
	closeChan  chan bool
}

func NewTestSignalWriter() *TestSignalWriter {
	return &TestSignalWriter{
		signalChan: make(chan bool),
		closeChan:  make(chan bool),
	}
}

func (w *TestSignalWriter) Write(data []byte) (int, error) {
	w.lastWrite = append([]byte(nil), data...)
	w.signalChan <- true
	return len(data), nil
}

func (w *TestSignalWriter) Close() error {
	w.closeChan <- true
	return nil
}

func testFlow() types.TcpIpFlow {
	return types.NewTcpIpFlow(net.IPv4(1, 2, 3, 4), 1, net.IPv4(2, 3, 4, 5), 2)
}
