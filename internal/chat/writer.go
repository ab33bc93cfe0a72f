package chat

import (
	"net"
	"time"
)

// StartOutboundWriter writes every queued message to conn, one write per
// message. The returned channel is closed once out is drained or a write
// fails; a failed write also closes conn so the reader side unblocks.
func StartOutboundWriter(conn net.Conn, out <-chan []byte, writeTimeout time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range out {
			if writeTimeout > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			}
			if _, err := conn.Write(msg); err != nil {
				_ = conn.Close()
				return
			}
		}
	}()
	return done
}
