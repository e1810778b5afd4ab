// Manual test broker: accepts consumer connections, validates the V2
// magic, echoes SUB/RDY to stdout and pushes a message frame for every
// RDY it sees, with a periodic heartbeat. Run it, then point the
// consumer at 127.0.0.1:4150.
package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:4150", "listen address")
	heartbeat := flag.Duration("heartbeat", 10*time.Second, "heartbeat interval")
	flag.Parse()

	l, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatal(err)
	}
	defer l.Close()
	fmt.Println("listening on", *addr)

	for {
		conn, err := l.Accept()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println("accepted:", conn.RemoteAddr())
		go serve(conn, *heartbeat)
	}
}

func serve(c net.Conn, heartbeat time.Duration) {
	defer c.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(c, magic); err != nil || !bytes.Equal(magic, []byte("  V2")) {
		fmt.Println("bad magic:", magic)
		return
	}
	fmt.Println("magic ok")

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			if err := writeFrame(c, 0, []byte("_heartbeat_")); err != nil {
				return
			}
			fmt.Println("sent heartbeat")
		}
	}()

	seq := 0
	scanner := bufio.NewScanner(c)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Println("recv:", line)
		switch {
		case strings.HasPrefix(line, "SUB "):
		case strings.HasPrefix(line, "RDY "):
			seq++
			if err := writeFrame(c, 2, messagePayload(seq)); err != nil {
				return
			}
		case line == "CLS":
			fmt.Println("client closing")
			return
		}
	}
}

func writeFrame(c net.Conn, frameType int32, payload []byte) error {
	buf := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(4+len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(frameType))
	_, err := c.Write(append(buf, payload...))
	return err
}

func messagePayload(seq int) []byte {
	body := fmt.Sprintf("hello %d", seq)
	payload := make([]byte, 26+len(body))
	binary.BigEndian.PutUint64(payload[0:8], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint16(payload[8:10], 1)
	copy(payload[10:26], fmt.Sprintf("%016d", seq))
	copy(payload[26:], body)
	return payload
}
