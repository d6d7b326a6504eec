package irc

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const dialTimeout = 10 * time.Second

// Conn is one line-oriented connection to the chat server. WriteLine
// appends the trailing \r\n itself. Implementations are safe for one
// concurrent reader and one concurrent writer.
type Conn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
}

// tcpConn is the default transport: plain text IRC over TCP.
type tcpConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// DialTCP opens a plain TCP connection to addr (host:port).
func DialTCP(addr string) (Conn, error) {
	c, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &tcpConn{conn: c, reader: bufio.NewReader(c)}, nil
}

func (c *tcpConn) ReadLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *tcpConn) WriteLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write([]byte(line + "\r\n"))
	return err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// wsConn carries the same protocol over a websocket. Twitch may pack
// several IRC lines into one text frame, so reads are buffered.
type wsConn struct {
	conn    *websocket.Conn
	pending []string
	writeMu sync.Mutex
}

// DialWebsocket opens a websocket connection to url
// (wss://irc-ws.chat.twitch.tv:443 for the upstream).
func DialWebsocket(url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	c, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

func (c *wsConn) ReadLine() (string, error) {
	for len(c.pending) == 0 {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		for _, line := range strings.Split(string(payload), "\r\n") {
			if line != "" {
				c.pending = append(c.pending, line)
			}
		}
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	return line, nil
}

func (c *wsConn) WriteLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line+"\r\n"))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
